package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/goleak"
)

func TestPresalePurchasedEvent(t *testing.T) {
	buyer := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	evt := PresalePurchased{
		ReceiptID: " r-1 ",
		Buyer:     buyer,
		Amount:    big.NewInt(100),
		Currency:  "usdt",
		Paid:      big.NewInt(1),
		Stage:     2,
	}.Event()
	if evt.Type != TypePresalePurchased {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["buyer"] != buyer.Hex() {
		t.Fatalf("unexpected buyer attr: %s", evt.Attributes["buyer"])
	}
	if evt.Attributes["currency"] != "USDT" || evt.Attributes["amount"] != "100" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["receiptId"] != "r-1" || evt.Attributes["stage"] != "2" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
}

func TestPresaleEndedEventNilTotal(t *testing.T) {
	evt := PresaleEnded{Stage: 8, EndedAt: 1700000000, Reason: StageReasonExpired}.Event()
	if evt.Attributes["totalSold"] != "0" {
		t.Fatalf("expected zero total, got %s", evt.Attributes["totalSold"])
	}
	if evt.Attributes["endedAt"] != "1700000000" {
		t.Fatalf("unexpected endedAt: %s", evt.Attributes["endedAt"])
	}
}

func TestMultiEmitterFansOut(t *testing.T) {
	var first, second []string
	multi := MultiEmitter{
		EmitterFunc(func(evt Event) { first = append(first, evt.EventType()) }),
		nil,
		EmitterFunc(func(evt Event) { second = append(second, evt.EventType()) }),
	}
	multi.Emit(PresaleStarted{StartTime: 1})
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected both emitters to observe the event: %v %v", first, second)
	}
}

func TestHubBacklogAndSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(2)
	hub.Emit(PresaleStarted{StartTime: 1})
	hub.Emit(PresaleClaimed{Amount: big.NewInt(5)})
	hub.Emit(PresaleUnsoldSwept{Amount: big.NewInt(7)})

	ch, cancel, backlog := hub.Subscribe(4)
	if len(backlog) != 2 {
		t.Fatalf("expected backlog trimmed to 2, got %d", len(backlog))
	}
	if backlog[0].Type != TypePresaleClaimed || backlog[1].Type != TypePresaleSwept {
		t.Fatalf("unexpected backlog order: %s, %s", backlog[0].Type, backlog[1].Type)
	}
	if hub.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}

	hub.Emit(PresaleTreasuryUpdated{})
	got := <-ch
	if got.Type != TypePresaleTreasury {
		t.Fatalf("unexpected live event: %s", got.Type)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after cancel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
}
