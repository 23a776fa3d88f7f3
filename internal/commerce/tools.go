package commerce

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/guiofsaints/procureflow-sub000/internal/tools"
)

// Tool names exposed to the model
const (
	ToolSearchCatalog      = "search_catalog"
	ToolAddToCart          = "add_to_cart"
	ToolUpdateCartQuantity = "update_cart_quantity"
	ToolViewCart           = "view_cart"
	ToolAnalyzeCart        = "analyze_cart"
	ToolRemoveFromCart     = "remove_from_cart"
	ToolCheckout           = "checkout"
)

type searchArgs struct {
	Keyword    string  `json:"keyword"`
	Category   string  `json:"category"`
	MaxPrice   float64 `json:"maxPrice"`
	MaxResults int     `json:"maxResults"`
}

type searchResult struct {
	Items []Item `json:"items"`
	Total int    `json:"total"`
}

type cartItemArgs struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type checkoutArgs struct {
	Notes string `json:"notes"`
}

func object(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var (
	itemIDProperty = map[string]any{
		"type":        "string",
		"minLength":   1,
		"description": "Catalog item ID as returned by search_catalog, e.g. itm-001",
	}
	noArguments = object(map[string]any{})
)

// RegisterTools registers the procurement tools backed by svc.
func RegisterTools(reg *tools.Registry, svc Service) error {
	defs := []struct {
		name        string
		description string
		parameters  map[string]any
		handler     tools.Handler
	}{
		{
			name:        ToolSearchCatalog,
			description: "Search the procurement catalog by keyword. Returns matching items with ID, name, price and availability, cheapest first. Use it whenever the user asks for a product.",
			parameters: object(map[string]any{
				"keyword": map[string]any{
					"type":        "string",
					"description": "Search keywords such as laptop, monitor or chair",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "Optional category filter: laptops, monitors, furniture, peripherals, audio, office supplies",
				},
				"maxPrice": map[string]any{
					"type":        "number",
					"minimum":     0,
					"description": "Optional maximum unit price in USD",
				},
				"maxResults": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     maxMaxResults,
					"description": "Maximum number of items to return (default 10)",
				},
			}, "keyword"),
			handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args searchArgs
				if err := decode(raw, &args); err != nil {
					return nil, err
				}
				items, err := svc.Search(ctx, SearchQuery(args))
				if err != nil {
					return nil, err
				}
				return searchResult{Items: items, Total: len(items)}, nil
			},
		},
		{
			name:        ToolAddToCart,
			description: "Add an item from the catalog to the user's cart.",
			parameters: object(map[string]any{
				"itemId": itemIDProperty,
				"quantity": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     MaxLineQuantity,
					"description": "Number of units to add (default 1)",
				},
			}, "itemId"),
			handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				args := cartItemArgs{Quantity: 1}
				if err := decode(raw, &args); err != nil {
					return nil, err
				}
				return svc.AddToCart(ctx, tools.IdentifiedUser(ctx), args.ItemID, args.Quantity)
			},
		},
		{
			name:        ToolUpdateCartQuantity,
			description: "Set the quantity of an item already in the cart. A quantity of 0 removes it.",
			parameters: object(map[string]any{
				"itemId": itemIDProperty,
				"quantity": map[string]any{
					"type":        "integer",
					"minimum":     0,
					"maximum":     MaxLineQuantity,
					"description": "New quantity for the item",
				},
			}, "itemId", "quantity"),
			handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args cartItemArgs
				if err := decode(raw, &args); err != nil {
					return nil, err
				}
				return svc.UpdateQuantity(ctx, tools.IdentifiedUser(ctx), args.ItemID, args.Quantity)
			},
		},
		{
			name:        ToolViewCart,
			description: "Show the items in the user's cart with quantities and totals.",
			parameters:  noArguments,
			handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return svc.ViewCart(ctx, tools.IdentifiedUser(ctx))
			},
		},
		{
			name:        ToolAnalyzeCart,
			description: "Analyze the user's cart: spend by category, unavailable items and cheaper alternatives.",
			parameters:  noArguments,
			handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return svc.AnalyzeCart(ctx, tools.IdentifiedUser(ctx))
			},
		},
		{
			name:        ToolRemoveFromCart,
			description: "Remove an item from the user's cart.",
			parameters: object(map[string]any{
				"itemId": itemIDProperty,
			}, "itemId"),
			handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args cartItemArgs
				if err := decode(raw, &args); err != nil {
					return nil, err
				}
				return svc.RemoveFromCart(ctx, tools.IdentifiedUser(ctx), args.ItemID)
			},
		},
		{
			name:        ToolCheckout,
			description: "Place an order for everything in the user's cart. Only call this after the user confirms.",
			parameters: object(map[string]any{
				"notes": map[string]any{
					"type":        "string",
					"maxLength":   500,
					"description": "Optional notes for the purchasing team",
				},
			}),
			handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var args checkoutArgs
				if err := decode(raw, &args); err != nil {
					return nil, err
				}
				return svc.Checkout(ctx, tools.IdentifiedUser(ctx), args.Notes)
			},
		},
	}

	for _, d := range defs {
		if err := reg.Register(d.name, d.description, d.parameters, d.handler); err != nil {
			return fmt.Errorf("register %s: %w", d.name, err)
		}
	}
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
