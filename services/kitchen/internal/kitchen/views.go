package kitchen

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/appetiteclub/expo/pkg/enums/station"
)

// ViewKind selects one read-side projection of the item store.
type ViewKind string

const (
	ViewOrders    ViewKind = "orders"
	ViewStation   ViewKind = "station"
	ViewMenuItems ViewKind = "menu-items"
	ViewRecent    ViewKind = "recent"
)

// ViewRequest parameterizes Materialize. Station is required for
// ViewStation and optional for ViewMenuItems; MinutesAgo applies to
// ViewRecent and defaults to the configured recent window.
type ViewRequest struct {
	Kind       ViewKind
	Station    string
	MinutesAgo int
}

// ViewItem is an item decorated with its read-time priority.
type ViewItem struct {
	OrderTicketItem
	WaitingMinutes int           `json:"waiting_minutes"`
	Priority       PriorityLevel `json:"priority"`
	Recallable     bool          `json:"recallable,omitempty"`
}

type OrderCard struct {
	OrderID        OrderID       `json:"order_id"`
	DisplayNumber  string        `json:"display_number"`
	TableLabel     string        `json:"table_label"`
	StaffName      string        `json:"staff_name"`
	CreatedAt      time.Time     `json:"created_at"`
	WaitingMinutes int           `json:"waiting_minutes"`
	Priority       PriorityLevel `json:"priority"`
	TotalItems     int           `json:"total_items"`
	CompletedItems int           `json:"completed_items"`
	Items          []ViewItem    `json:"items"`
}

type StationView struct {
	Station     string     `json:"station"`
	AllItems    []ViewItem `json:"all_items"`
	UrgentItems []ViewItem `json:"urgent_items"`
}

// ItemRef points at one order line contributing to a menu item group.
type ItemRef struct {
	OrderID  OrderID `json:"order_id"`
	ItemID   ItemID  `json:"item_id"`
	Quantity int     `json:"quantity"`
}

type MenuItemGroup struct {
	MenuItemID    MenuItemID `json:"menu_item_id"`
	MenuItemName  string     `json:"menu_item_name"`
	Station       string     `json:"station"`
	TotalQuantity int        `json:"total_quantity"`
	Contributions []ItemRef  `json:"contributions"`
}

type FulfilledOrder struct {
	OrderID       OrderID    `json:"order_id"`
	DisplayNumber string     `json:"display_number"`
	TableLabel    string     `json:"table_label"`
	LastCompleted time.Time  `json:"last_completed_at"`
	Items         []ViewItem `json:"items"`
}

type RecentlyFulfilledView struct {
	MinutesAgo int              `json:"minutes_ago"`
	Since      time.Time        `json:"since"`
	Orders     []FulfilledOrder `json:"orders"`
}

type StationInfo struct {
	Code        string `json:"code"`
	Label       string `json:"label"`
	ActiveItems int    `json:"active_items"`
}

// Materializer builds views from a fresh store snapshot on every call.
// Nothing it returns is cached or written back.
type Materializer struct {
	store    ItemLister
	orders   *OrderDirectory
	priority *PriorityCalculator
	clock    Clock
	settings Settings
}

func NewMaterializer(store ItemLister, orders *OrderDirectory, clock Clock, settings Settings) *Materializer {
	if clock == nil {
		clock = SystemClock{}
	}
	if orders == nil {
		orders = NewOrderDirectory()
	}
	return &Materializer{
		store:    store,
		orders:   orders,
		priority: NewPriorityCalculator(settings.WarnAfter, settings.CriticalAfter, clock),
		clock:    clock,
		settings: settings,
	}
}

// Materialize dispatches on the view kind.
func (m *Materializer) Materialize(ctx context.Context, req ViewRequest) (any, error) {
	req.Station = NormalizeStation(req.Station)
	switch req.Kind {
	case ViewOrders:
		return m.OrderCards(ctx)
	case ViewStation:
		if req.Station == "" {
			return nil, fmt.Errorf("%w: station view needs a station", ErrInvalidView)
		}
		return m.Station(ctx, req.Station)
	case ViewMenuItems:
		return m.GroupedByMenuItem(ctx, req.Station)
	case ViewRecent:
		return m.RecentlyFulfilled(ctx, req.MinutesAgo)
	default:
		return nil, fmt.Errorf("%w: unknown view %q", ErrInvalidView, req.Kind)
	}
}

// OrderCards returns one card per order that still has work, or whose last
// item finished inside the recent window. Cards are ordered oldest first.
func (m *Materializer) OrderCards(ctx context.Context) ([]OrderCard, error) {
	items, err := m.store.List(ctx, ItemFilter{})
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	retainSince := now.Add(-m.settings.RecentWindow)

	byOrder := make(map[OrderID][]OrderTicketItem)
	var orderIDs []OrderID
	for _, item := range items {
		if _, seen := byOrder[item.OrderID]; !seen {
			orderIDs = append(orderIDs, item.OrderID)
		}
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}

	cards := make([]OrderCard, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		orderItems := byOrder[orderID]
		if !orderVisible(orderItems, retainSince) {
			continue
		}
		cards = append(cards, m.orderCard(orderID, orderItems, now))
	}

	sort.SliceStable(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.Before(cards[j].CreatedAt)
		}
		return cards[i].OrderID.String() < cards[j].OrderID.String()
	})
	return cards, nil
}

func orderVisible(items []OrderTicketItem, retainSince time.Time) bool {
	var last time.Time
	for _, item := range items {
		if item.IsActive() {
			return true
		}
		if item.CompletedAt != nil && item.CompletedAt.After(last) {
			last = *item.CompletedAt
		}
	}
	return !last.Before(retainSince)
}

func (m *Materializer) orderCard(orderID OrderID, items []OrderTicketItem, now time.Time) OrderCard {
	card := OrderCard{
		OrderID:    orderID,
		TotalItems: len(items),
		Items:      make([]ViewItem, 0, len(items)),
	}

	for _, item := range items {
		if item.Status == statuses.Done {
			card.CompletedItems++
		}
		if card.CreatedAt.IsZero() || item.CreatedAt.Before(card.CreatedAt) {
			card.CreatedAt = item.CreatedAt
		}
		card.Items = append(card.Items, m.decorate(item, now))
	}

	if info, ok := m.orders.Lookup(orderID); ok {
		card.DisplayNumber = info.DisplayNumber
		card.TableLabel = info.TableLabel
		card.StaffName = info.StaffName
		if !info.CreatedAt.IsZero() {
			card.CreatedAt = info.CreatedAt
		}
	}

	card.WaitingMinutes, card.Priority = m.priority.Evaluate(card.CreatedAt)
	return card
}

// Station partitions the active items of one station. Both lists are FIFO by
// CreatedAt; priority never reorders them.
func (m *Materializer) Station(ctx context.Context, stationCode string) (*StationView, error) {
	stationCode = NormalizeStation(stationCode)
	items, err := m.store.List(ctx, ItemFilter{Station: stationCode, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	view := &StationView{
		Station:     stationCode,
		AllItems:    make([]ViewItem, 0, len(items)),
		UrgentItems: make([]ViewItem, 0),
	}
	for _, item := range items {
		decorated := m.decorate(item, now)
		view.AllItems = append(view.AllItems, decorated)
		if item.IsUrgent {
			view.UrgentItems = append(view.UrgentItems, decorated)
		}
	}
	return view, nil
}

// GroupedByMenuItem sums active quantities per menu item for batch cooking.
// An empty stationCode covers every station.
func (m *Materializer) GroupedByMenuItem(ctx context.Context, stationCode string) ([]MenuItemGroup, error) {
	stationCode = NormalizeStation(stationCode)
	items, err := m.store.List(ctx, ItemFilter{Station: stationCode, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	index := make(map[MenuItemID]int)
	groups := make([]MenuItemGroup, 0)
	for _, item := range items {
		pos, ok := index[item.MenuItemID]
		if !ok {
			pos = len(groups)
			index[item.MenuItemID] = pos
			groups = append(groups, MenuItemGroup{
				MenuItemID:   item.MenuItemID,
				MenuItemName: item.MenuItemName,
				Station:      item.Station,
			})
		}
		groups[pos].TotalQuantity += item.Quantity
		groups[pos].Contributions = append(groups[pos].Contributions, ItemRef{
			OrderID:  item.OrderID,
			ItemID:   item.ID,
			Quantity: item.Quantity,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].TotalQuantity != groups[j].TotalQuantity {
			return groups[i].TotalQuantity > groups[j].TotalQuantity
		}
		return groups[i].MenuItemName < groups[j].MenuItemName
	})
	return groups, nil
}

// RecentlyFulfilled returns done items completed in the last minutesAgo
// minutes, grouped by order, newest completion first. These are the recall
// candidates; each item says whether recall would still be accepted.
func (m *Materializer) RecentlyFulfilled(ctx context.Context, minutesAgo int) (*RecentlyFulfilledView, error) {
	window := time.Duration(minutesAgo) * time.Minute
	if minutesAgo <= 0 {
		window = m.settings.RecentWindow
		minutesAgo = int(window / time.Minute)
	}

	now := m.clock.Now()
	since := now.Add(-window)
	done := statuses.Done

	items, err := m.store.List(ctx, ItemFilter{Status: &done, CompletedSince: &since})
	if err != nil {
		return nil, err
	}

	view := &RecentlyFulfilledView{
		MinutesAgo: minutesAgo,
		Since:      since,
		Orders:     make([]FulfilledOrder, 0),
	}

	index := make(map[OrderID]int)
	for _, item := range items {
		if item.CompletedAt == nil || item.CompletedAt.After(now) {
			continue
		}
		pos, ok := index[item.OrderID]
		if !ok {
			pos = len(view.Orders)
			index[item.OrderID] = pos
			group := FulfilledOrder{OrderID: item.OrderID}
			if info, found := m.orders.Lookup(item.OrderID); found {
				group.DisplayNumber = info.DisplayNumber
				group.TableLabel = info.TableLabel
			}
			view.Orders = append(view.Orders, group)
		}

		group := &view.Orders[pos]
		if item.CompletedAt.After(group.LastCompleted) {
			group.LastCompleted = *item.CompletedAt
		}
		group.Items = append(group.Items, m.decorate(item, now))
	}

	sort.SliceStable(view.Orders, func(i, j int) bool {
		return view.Orders[i].LastCompleted.After(view.Orders[j].LastCompleted)
	})
	return view, nil
}

// CourseTypes lists the known stations plus any station that items were
// routed to outside the standard set.
func (m *Materializer) CourseTypes(ctx context.Context) ([]StationInfo, error) {
	items, err := m.store.List(ctx, ItemFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	active := make(map[string]int)
	for _, item := range items {
		active[item.Station]++
	}

	result := make([]StationInfo, 0, len(station.All))
	known := make(map[string]bool, len(station.All))
	for _, s := range station.All {
		known[s.Code()] = true
		result = append(result, StationInfo{Code: s.Code(), Label: s.Label(), ActiveItems: active[s.Code()]})
	}

	var extra []string
	for code := range active {
		if !known[code] {
			extra = append(extra, code)
		}
	}
	sort.Strings(extra)
	for _, code := range extra {
		result = append(result, StationInfo{Code: code, Label: station.Station{Name: code}.Label(), ActiveItems: active[code]})
	}
	return result, nil
}

func (m *Materializer) decorate(item OrderTicketItem, now time.Time) ViewItem {
	minutes, level := m.priority.Evaluate(item.CreatedAt)
	return ViewItem{
		OrderTicketItem: item,
		WaitingMinutes:  minutes,
		Priority:        level,
		Recallable:      withinRecallWindow(item, now, m.settings.RecallWindow),
	}
}

// withinRecallWindow reports whether a done item completed no longer than
// window before now.
func withinRecallWindow(item OrderTicketItem, now time.Time, window time.Duration) bool {
	if item.Status != statuses.Done || item.CompletedAt == nil {
		return false
	}
	return now.Sub(*item.CompletedAt) <= window
}
