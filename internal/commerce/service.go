package commerce

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 999

var (
	ErrNoUser          = errors.New("no user is associated with this conversation")
	ErrItemNotFound    = errors.New("item not found")
	ErrOutOfStock      = errors.New("item is out of stock")
	ErrNotInCart       = errors.New("item is not in the cart")
	ErrCartEmpty       = errors.New("cart is empty")
	ErrInvalidQuantity = fmt.Errorf("quantity must be between 1 and %d", MaxLineQuantity)
)

// Service is the domain boundary the assistant's tools call.
type Service interface {
	Search(ctx context.Context, q SearchQuery) ([]Item, error)
	Item(ctx context.Context, itemID string) (*Item, error)
	AddToCart(ctx context.Context, userID, itemID string, quantity int) (*Cart, error)
	UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (*Cart, error)
	RemoveFromCart(ctx context.Context, userID, itemID string) (*Cart, error)
	ViewCart(ctx context.Context, userID string) (*Cart, error)
	AnalyzeCart(ctx context.Context, userID string) (*CartAnalysis, error)
	Checkout(ctx context.Context, userID, notes string) (*Order, error)
}

// CartLine is one item in a cart
type CartLine struct {
	ItemID    string  `json:"itemId"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
}

// Cart is a snapshot of a user's cart
type Cart struct {
	UserID    string     `json:"userId"`
	Lines     []CartLine `json:"items"`
	ItemCount int        `json:"itemCount"`
	Total     float64    `json:"total"`
}

// String renders the cart the way it is shown to the model as context.
func (c *Cart) String() string {
	if c == nil || len(c.Lines) == 0 {
		return "Cart is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Cart (%d items, total $%.2f):", c.ItemCount, c.Total)
	for _, l := range c.Lines {
		fmt.Fprintf(&b, "\n- %s x%d (%s) $%.2f", l.Name, l.Quantity, l.ItemID, l.Subtotal)
	}
	return b.String()
}

// CartAnalysis summarizes a cart for the model
type CartAnalysis struct {
	ItemCount          int                `json:"itemCount"`
	DistinctItems      int                `json:"distinctItems"`
	Total              float64            `json:"total"`
	SpendByCategory    map[string]float64 `json:"spendByCategory"`
	MostExpensiveLine  *CartLine          `json:"mostExpensiveLine,omitempty"`
	UnavailableItemIDs []string           `json:"unavailableItemIds,omitempty"`
	Suggestions        []string           `json:"suggestions,omitempty"`
}

// Order is a completed checkout
type Order struct {
	ID        string     `json:"orderId"`
	UserID    string     `json:"userId"`
	Lines     []CartLine `json:"items"`
	ItemCount int        `json:"itemCount"`
	Total     float64    `json:"total"`
	Notes     string     `json:"notes,omitempty"`
	Status    string     `json:"status"`
	PlacedAt  time.Time  `json:"placedAt"`
}

type cartEntry struct {
	itemID   string
	quantity int
	added    int
}

// MemoryService keeps the catalog, carts and orders in memory.
type MemoryService struct {
	mu      sync.RWMutex
	items   map[string]Item
	order   []string
	carts   map[string]map[string]*cartEntry
	orders  map[string][]Order
	counter int
	now     func() time.Time
}

// NewMemoryService creates a service over the given catalog
func NewMemoryService(catalog []Item) *MemoryService {
	s := &MemoryService{
		items:  make(map[string]Item, len(catalog)),
		carts:  make(map[string]map[string]*cartEntry),
		orders: make(map[string][]Order),
		now:    time.Now,
	}
	for _, item := range catalog {
		if _, dup := s.items[item.ID]; !dup {
			s.order = append(s.order, item.ID)
		}
		s.items[item.ID] = item
	}
	return s
}

// Search returns catalog items matching the query, cheapest first.
func (s *MemoryService) Search(ctx context.Context, q SearchQuery) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.MaxPrice < 0 {
		return nil, fmt.Errorf("maxPrice must not be negative")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Item, 0)
	for _, id := range s.order {
		if item := s.items[id]; q.Matches(item) {
			matched = append(matched, item)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Price < matched[j].Price })

	if limit := q.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Item looks up a single catalog item
func (s *MemoryService) Item(ctx context.Context, itemID string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return &item, nil
}

// AddToCart adds quantity of an item, merging with an existing line.
func (s *MemoryService) AddToCart(ctx context.Context, userID, itemID string, quantity int) (*Cart, error) {
	if err := checkCall(ctx, userID); err != nil {
		return nil, err
	}
	if quantity < 1 || quantity > MaxLineQuantity {
		return nil, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if !item.InStock {
		return nil, fmt.Errorf("%w: %s", ErrOutOfStock, item.Name)
	}

	cart := s.cartLocked(userID)
	entry, exists := cart[itemID]
	if !exists {
		s.counter++
		entry = &cartEntry{itemID: itemID, added: s.counter}
	}
	if entry.quantity+quantity > MaxLineQuantity {
		return nil, ErrInvalidQuantity
	}
	entry.quantity += quantity
	cart[itemID] = entry

	return s.snapshotLocked(userID), nil
}

// UpdateQuantity sets the quantity of a cart line. Zero removes the line.
func (s *MemoryService) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (*Cart, error) {
	if err := checkCall(ctx, userID); err != nil {
		return nil, err
	}
	if quantity < 0 || quantity > MaxLineQuantity {
		return nil, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(userID)
	entry, ok := cart[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInCart, itemID)
	}
	if quantity == 0 {
		delete(cart, itemID)
	} else {
		entry.quantity = quantity
	}
	return s.snapshotLocked(userID), nil
}

// RemoveFromCart deletes a cart line
func (s *MemoryService) RemoveFromCart(ctx context.Context, userID, itemID string) (*Cart, error) {
	if err := checkCall(ctx, userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(userID)
	if _, ok := cart[itemID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInCart, itemID)
	}
	delete(cart, itemID)
	return s.snapshotLocked(userID), nil
}

// ViewCart returns the user's cart
func (s *MemoryService) ViewCart(ctx context.Context, userID string) (*Cart, error) {
	if err := checkCall(ctx, userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(userID), nil
}

// AnalyzeCart summarizes spend and flags lines that cannot be ordered.
func (s *MemoryService) AnalyzeCart(ctx context.Context, userID string) (*CartAnalysis, error) {
	if err := checkCall(ctx, userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cart := s.snapshotLocked(userID)
	analysis := &CartAnalysis{
		ItemCount:       cart.ItemCount,
		DistinctItems:   len(cart.Lines),
		Total:           cart.Total,
		SpendByCategory: make(map[string]float64),
	}
	if len(cart.Lines) == 0 {
		analysis.Suggestions = []string{"The cart is empty. Search the catalog to add items."}
		return analysis, nil
	}

	for i, line := range cart.Lines {
		analysis.SpendByCategory[line.Category] = round2(analysis.SpendByCategory[line.Category] + line.Subtotal)
		if analysis.MostExpensiveLine == nil || line.Subtotal > analysis.MostExpensiveLine.Subtotal {
			analysis.MostExpensiveLine = &cart.Lines[i]
		}
		if item, ok := s.items[line.ItemID]; ok && !item.InStock {
			analysis.UnavailableItemIDs = append(analysis.UnavailableItemIDs, line.ItemID)
		}
	}

	if len(analysis.UnavailableItemIDs) > 0 {
		analysis.Suggestions = append(analysis.Suggestions,
			"Some items are out of stock and must be removed before checkout.")
	}
	for _, line := range cart.Lines {
		if cheaper := s.cheaperAlternativeLocked(line); cheaper != nil {
			analysis.Suggestions = append(analysis.Suggestions,
				fmt.Sprintf("%s is available for $%.2f instead of %s at $%.2f.",
					cheaper.Name, cheaper.Price, line.Name, line.UnitPrice))
		}
	}
	return analysis, nil
}

func (s *MemoryService) cheaperAlternativeLocked(line CartLine) *Item {
	var best *Item
	for _, id := range s.order {
		item := s.items[id]
		if item.ID == line.ItemID || !item.InStock || item.Category != line.Category {
			continue
		}
		if item.Price < line.UnitPrice && (best == nil || item.Price < best.Price) {
			it := item
			best = &it
		}
	}
	return best
}

// Checkout places an order for the whole cart and empties it.
func (s *MemoryService) Checkout(ctx context.Context, userID, notes string) (*Order, error) {
	if err := checkCall(ctx, userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.snapshotLocked(userID)
	if len(cart.Lines) == 0 {
		return nil, ErrCartEmpty
	}
	for _, line := range cart.Lines {
		if item, ok := s.items[line.ItemID]; ok && !item.InStock {
			return nil, fmt.Errorf("%w: %s", ErrOutOfStock, item.Name)
		}
	}

	order := Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		Lines:     cart.Lines,
		ItemCount: cart.ItemCount,
		Total:     cart.Total,
		Notes:     strings.TrimSpace(notes),
		Status:    "placed",
		PlacedAt:  s.now().UTC(),
	}
	s.orders[userID] = append(s.orders[userID], order)
	delete(s.carts, userID)
	return &order, nil
}

// Orders returns the orders placed by a user
func (s *MemoryService) Orders(userID string) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Order(nil), s.orders[userID]...)
}

// CartSnapshot returns the user's cart for use as turn context. It never
// fails; an unknown user has an empty cart.
func (s *MemoryService) CartSnapshot(userID string) *Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(userID)
}

func (s *MemoryService) cartLocked(userID string) map[string]*cartEntry {
	cart, ok := s.carts[userID]
	if !ok {
		cart = make(map[string]*cartEntry)
		s.carts[userID] = cart
	}
	return cart
}

func (s *MemoryService) snapshotLocked(userID string) *Cart {
	out := &Cart{UserID: userID, Lines: []CartLine{}}
	entries := make([]*cartEntry, 0, len(s.carts[userID]))
	for _, e := range s.carts[userID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].added < entries[j].added })

	for _, e := range entries {
		item := s.items[e.itemID]
		line := CartLine{
			ItemID:    item.ID,
			Name:      item.Name,
			Category:  item.Category,
			UnitPrice: item.Price,
			Quantity:  e.quantity,
			Subtotal:  round2(item.Price * float64(e.quantity)),
		}
		out.Lines = append(out.Lines, line)
		out.ItemCount += e.quantity
		out.Total += line.Subtotal
	}
	out.Total = round2(out.Total)
	return out
}

func checkCall(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return ErrNoUser
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
