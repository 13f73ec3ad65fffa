// MCP transport for the cartsync daemon using the official MCP Go SDK.
// Exposes the collection operations as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cartsync/internal/model"
)

// === MCP Tool Input Types ===

// CollectionInput addresses a collection.
type CollectionInput struct {
	Kind string `json:"kind" jsonschema:"collection kind: cart or wishlist"`
}

// AddItemInput is the input schema for the add_item tool.
type AddItemInput struct {
	Kind              string `json:"kind" jsonschema:"collection kind: cart or wishlist"`
	ProductID         string `json:"product_id" jsonschema:"catalog product id"`
	VariantKey        string `json:"variant_key,omitempty" jsonschema:"variant, e.g. 500g"`
	Quantity          int    `json:"quantity" jsonschema:"units to add, at least 1"`
	Name              string `json:"name" jsonschema:"display name"`
	Image             string `json:"image,omitempty" jsonschema:"image URL"`
	UnitPrice         string `json:"unit_price" jsonschema:"unit price as a decimal string"`
	OriginalUnitPrice string `json:"original_unit_price,omitempty" jsonschema:"price before discount as a decimal string"`
}

// UpdateQuantityInput is the input schema for the update_quantity tool.
type UpdateQuantityInput struct {
	Kind     string `json:"kind" jsonschema:"collection kind: cart or wishlist"`
	EntryID  string `json:"entry_id" jsonschema:"entry id from get_collection"`
	Quantity int    `json:"quantity" jsonschema:"new quantity; 0 removes the item"`
}

// RemoveItemInput is the input schema for the remove_item tool.
type RemoveItemInput struct {
	Kind    string `json:"kind" jsonschema:"collection kind: cart or wishlist"`
	EntryID string `json:"entry_id" jsonschema:"entry id from get_collection"`
}

// NewMCPServer creates an MCP server with the collection tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "cartsync",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Shopping cart and wishlist of the current storefront session. " +
				"Read a collection with get_collection before changing it.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_collection",
		Description: "Get the items and totals of the cart or the wishlist.",
	}, h.mcpGetCollection)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_item",
		Description: "Add units of a product variant. Adding an item already present increases its quantity.",
	}, h.mcpAddItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_quantity",
		Description: "Set the quantity of an entry. A quantity of 0 removes it.",
	}, h.mcpUpdateQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_item",
		Description: "Remove an entry. Removing an entry that is already gone succeeds.",
	}, h.mcpRemoveItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_collection",
		Description: "Remove every item of the cart or the wishlist.",
	}, h.mcpClearCollection)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCollection(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CollectionInput,
) (*mcp.CallToolResult, CollectionView, error) {
	c, err := h.controller(input.Kind)
	if err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}
	return nil, h.view(c), nil
}

func (h *Handler) mcpAddItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddItemInput,
) (*mcp.CallToolResult, CollectionView, error) {
	c, err := h.controller(input.Kind)
	if err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}

	snap, err := addItemRequest{
		Name:              input.Name,
		Image:             input.Image,
		UnitPrice:         input.UnitPrice,
		OriginalUnitPrice: input.OriginalUnitPrice,
	}.snapshot()
	if err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}

	if err := c.Add(ctx, input.ProductID, input.VariantKey, input.Quantity, snap); err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}
	return nil, h.view(c), nil
}

func (h *Handler) mcpUpdateQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateQuantityInput,
) (*mcp.CallToolResult, CollectionView, error) {
	c, err := h.controller(input.Kind)
	if err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}
	if input.EntryID == "" {
		return nil, CollectionView{}, fmt.Errorf("entry_id is required")
	}

	if err := c.UpdateQuantityByEntry(ctx, input.EntryID, input.Quantity); err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}
	return nil, h.view(c), nil
}

func (h *Handler) mcpRemoveItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveItemInput,
) (*mcp.CallToolResult, CollectionView, error) {
	c, err := h.controller(input.Kind)
	if err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}
	if input.EntryID == "" {
		return nil, CollectionView{}, fmt.Errorf("entry_id is required")
	}

	key, ok := c.Store().KeyForEntry(input.EntryID)
	if !ok {
		return nil, h.view(c), nil
	}
	if err := c.Remove(ctx, key); err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}
	return nil, h.view(c), nil
}

func (h *Handler) mcpClearCollection(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CollectionInput,
) (*mcp.CallToolResult, CollectionView, error) {
	c, err := h.controller(input.Kind)
	if err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}
	if err := c.Clear(ctx); err != nil {
		return nil, CollectionView{}, h.mcpError(err)
	}
	return nil, h.view(c), nil
}

// mcpError converts collection errors to MCP tool errors: "kind: message".
func (h *Handler) mcpError(err error) error {
	var me *model.Error
	if errors.As(err, &me) {
		return fmt.Errorf("%s: %s", me.Kind, userMessage(me))
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
