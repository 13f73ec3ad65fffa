package identity

import (
	"testing"
)

func TestParseSessionHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    Identity
		wantErr bool
	}{
		{
			name:   "user and token",
			header: `user="u-123", token="abc"`,
			want:   Identity{UserID: "u-123", Token: "abc"},
		},
		{
			name:   "user only",
			header: `user="u-123"`,
			want:   Identity{UserID: "u-123"},
		},
		{
			name:   "surrounding whitespace",
			header: `  user="u-9"  `,
			want:   Identity{UserID: "u-9"},
		},
		{
			name:   "extra members ignored",
			header: `device="tab-2", user="u-1"`,
			want:   Identity{UserID: "u-1"},
		},
		{
			name:    "empty header",
			header:  "",
			wantErr: true,
		},
		{
			name:    "missing user",
			header:  `token="abc"`,
			wantErr: true,
		},
		{
			name:    "empty user",
			header:  `user=""`,
			wantErr: true,
		},
		{
			name:    "user not a string",
			header:  `user=42`,
			wantErr: true,
		},
		{
			name:    "token not a string",
			header:  `user="u", token=?1`,
			wantErr: true,
		},
		{
			name:    "malformed",
			header:  `user="unterminated`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSessionHeader(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSessionHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSessionHeader() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatSessionHeader(t *testing.T) {
	got, err := FormatSessionHeader(Identity{UserID: "u-1", Token: "a b"})
	if err != nil {
		t.Fatal(err)
	}
	if got != `user="u-1", token="a b"` {
		t.Errorf("FormatSessionHeader = %s", got)
	}

	id, err := ParseSessionHeader(got)
	if err != nil || id.UserID != "u-1" || id.Token != "a b" {
		t.Errorf("ParseSessionHeader(%s) = %+v, %v", got, id, err)
	}

	if _, err := FormatSessionHeader(Identity{}); err == nil {
		t.Error("expected error for empty user")
	}
}
