package catalog

import (
	"reflect"
	"testing"
)

func TestNotifier_DeliversInSubscriptionOrder(t *testing.T) {
	n := NewNotifier(nil, nil)

	var order []string
	n.Subscribe(func([]Product) { order = append(order, "a") })
	n.Subscribe(func([]Product) { order = append(order, "b") })
	n.Subscribe(func([]Product) { order = append(order, "c") })

	n.Notify(sampleProducts(1))

	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Fatalf("order=%v", order)
	}
}

func TestNotifier_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	n := NewNotifier(nil, nil)

	var got []Product
	n.Subscribe(func([]Product) { panic("boom") })
	n.Subscribe(func(ps []Product) { got = ps })

	n.Notify(sampleProducts(2))

	if len(got) != 2 {
		t.Fatalf("second subscriber got %d products", len(got))
	}
}

func TestNotifier_UnsubscribeIsIdempotent(t *testing.T) {
	n := NewNotifier(nil, nil)

	calls := 0
	unsub := n.Subscribe(func([]Product) { calls++ })
	keep := 0
	n.Subscribe(func([]Product) { keep++ })

	n.Notify(nil)
	unsub()
	unsub()
	n.Notify(nil)

	if calls != 1 || keep != 2 {
		t.Fatalf("calls=%d keep=%d", calls, keep)
	}
}

func TestNotifier_HandlersGetIndependentCopies(t *testing.T) {
	n := NewNotifier(nil, nil)

	var second []Product
	n.Subscribe(func(ps []Product) { ps[0].Title = "mutated" })
	n.Subscribe(func(ps []Product) { second = ps })

	src := sampleProducts(1)
	n.Notify(src)

	if src[0].Title != "Item 0" || second[0].Title != "Item 0" {
		t.Fatalf("payload shared between handlers: src=%q second=%q", src[0].Title, second[0].Title)
	}
}
