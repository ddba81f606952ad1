package mongo

import (
	"bytes"
	"testing"
	"time"

	"github.com/appetiteclub/expo/pkg/enums/kitchenstatus"
	"github.com/appetiteclub/expo/services/kitchen/internal/kitchen"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

func TestDocumentRoundTrip(t *testing.T) {
	started := time.Date(2026, 3, 14, 12, 2, 0, 0, time.UTC)
	item := &kitchen.OrderTicketItem{
		ID:           uuid.New(),
		OrderID:      uuid.New(),
		MenuItemID:   uuid.New(),
		MenuItemName: "Ribeye Steak",
		Quantity:     2,
		Station:      "grill",
		Notes:        "medium rare",
		Status:       kitchenstatus.Statuses.Cooking,
		IsUrgent:     true,
		CreatedAt:    started.Add(-2 * time.Minute),
		StartedAt:    &started,
	}

	got, err := toDocument(item).toItem()
	if err != nil {
		t.Fatalf("toItem() error = %v", err)
	}
	if got.ID != item.ID || got.OrderID != item.OrderID || got.MenuItemID != item.MenuItemID {
		t.Errorf("ids changed: %+v", got)
	}
	if got.Status != item.Status || !got.IsUrgent || got.Quantity != 2 {
		t.Errorf("state changed: %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) || got.CompletedAt != nil {
		t.Errorf("timestamps changed: started=%v completed=%v", got.StartedAt, got.CompletedAt)
	}
}

func TestDocumentToItemRejectsBadData(t *testing.T) {
	valid := toDocument(&kitchen.OrderTicketItem{
		ID:         uuid.New(),
		OrderID:    uuid.New(),
		MenuItemID: uuid.New(),
		Status:     kitchenstatus.Statuses.Pending,
	})

	tests := []struct {
		name   string
		mutate func(*itemDocument)
	}{
		{name: "badID", mutate: func(d *itemDocument) { d.ID = "x" }},
		{name: "badOrderID", mutate: func(d *itemDocument) { d.OrderID = "x" }},
		{name: "badMenuItemID", mutate: func(d *itemDocument) { d.MenuItemID = "x" }},
		{name: "unknownStatus", mutate: func(d *itemDocument) { d.Status = "ready" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := valid
			tt.mutate(&doc)
			if _, err := doc.toItem(); err == nil {
				t.Error("toItem() expected error")
			}
		})
	}
}

func TestStampUpdate(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	statuses := kitchenstatus.Statuses

	tests := []struct {
		name      string
		from      kitchen.Status
		to        kitchen.Status
		wantSet   []string
		wantUnset bool
	}{
		{name: "start", from: statuses.Pending, to: statuses.Cooking, wantSet: []string{"status", "started_at"}},
		{name: "finish", from: statuses.Cooking, to: statuses.Done, wantSet: []string{"status", "completed_at", "is_urgent"}},
		{name: "override", from: statuses.Pending, to: statuses.Done, wantSet: []string{"status", "started_at", "completed_at", "is_urgent"}},
		{name: "recall", from: statuses.Done, to: statuses.Cooking, wantSet: []string{"status"}, wantUnset: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stamp, err := kitchen.StampFor(tt.from, tt.to)
			if err != nil {
				t.Fatalf("StampFor() error = %v", err)
			}
			update := stampUpdate(stamp, tt.to, at)

			set, ok := update["$set"].(bson.M)
			if !ok {
				t.Fatalf("$set missing: %v", update)
			}
			if len(set) != len(tt.wantSet) {
				t.Errorf("$set = %v, want keys %v", set, tt.wantSet)
			}
			for _, key := range tt.wantSet {
				if _, ok := set[key]; !ok {
					t.Errorf("$set missing %q", key)
				}
			}
			if set["status"] != tt.to.Code() {
				t.Errorf("status = %v, want %s", set["status"], tt.to)
			}

			_, hasUnset := update["$unset"]
			if hasUnset != tt.wantUnset {
				t.Errorf("$unset present = %v, want %v", hasUnset, tt.wantUnset)
			}
		})
	}
}

func TestListQuery(t *testing.T) {
	orderID := uuid.New()
	since := time.Date(2026, 3, 14, 11, 50, 0, 0, time.UTC)
	done := kitchenstatus.Statuses.Done

	tests := []struct {
		name   string
		filter kitchen.ItemFilter
		want   bson.M
	}{
		{name: "empty", filter: kitchen.ItemFilter{}, want: bson.M{}},
		{name: "station", filter: kitchen.ItemFilter{Station: "grill"}, want: bson.M{"station": "grill"}},
		{name: "order", filter: kitchen.ItemFilter{OrderID: &orderID}, want: bson.M{"order_id": orderID.String()}},
		{name: "status", filter: kitchen.ItemFilter{Status: &done}, want: bson.M{"status": "done"}},
		{
			name:   "activeOnly",
			filter: kitchen.ItemFilter{ActiveOnly: true},
			want:   bson.M{"status": bson.M{"$in": bson.A{"pending", "cooking"}}},
		},
		{
			name:   "doneButActiveOnly",
			filter: kitchen.ItemFilter{Status: &done, ActiveOnly: true},
			want:   bson.M{"status": bson.M{"$in": bson.A{}}},
		},
		{
			name:   "completedSince",
			filter: kitchen.ItemFilter{CompletedSince: &since},
			want:   bson.M{"completed_at": bson.M{"$gte": since}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := listQuery(tt.filter)
			gotRaw, _ := bson.Marshal(got)
			wantRaw, _ := bson.Marshal(tt.want)
			if !bytes.Equal(gotRaw, wantRaw) {
				t.Errorf("listQuery() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderDocument(t *testing.T) {
	info := kitchen.OrderInfo{
		OrderID:       uuid.New(),
		DisplayNumber: "204",
		TableLabel:    "T7",
		StaffName:     "Marta",
		CreatedAt:     time.Date(2026, 3, 14, 11, 51, 0, 0, time.UTC),
	}

	got, err := toOrderDocument(info).toOrderInfo()
	if err != nil {
		t.Fatalf("toOrderInfo() error = %v", err)
	}
	if got != info {
		t.Errorf("toOrderInfo() = %+v, want %+v", got, info)
	}

	if _, err := (orderDocument{ID: "x"}).toOrderInfo(); err == nil {
		t.Error("toOrderInfo() with bad id expected error")
	}
}

// Compile-time check that the repo persists order metadata.
var _ kitchen.OrderInfoStore = (*ItemRepo)(nil)
