package payment

import (
	"context"
	"testing"

	"github.com/xraph/agentchat/id"
)

func TestForwarderFuncs(t *testing.T) {
	var forwarded, reversed string
	f := ForwarderFuncs{
		ForwardFunc: func(_ context.Context, tr Transfer) (string, error) {
			forwarded = tr.ID.String()
			return "ref-1", nil
		},
		ReverseFunc: func(_ context.Context, ref string) error {
			reversed = ref
			return nil
		},
	}

	tr := Transfer{ID: id.NewPaymentID()}
	ref, err := f.Forward(context.Background(), tr)
	if err != nil || ref != "ref-1" || forwarded != tr.ID.String() {
		t.Fatalf("Forward = %q, %v", ref, err)
	}
	if err := f.Reverse(context.Background(), ref); err != nil || reversed != "ref-1" {
		t.Fatalf("Reverse = %v (got %q)", err, reversed)
	}

	if err := (ForwarderFuncs{}).Reverse(context.Background(), "x"); err != nil {
		t.Errorf("nil ReverseFunc should be a no-op, got %v", err)
	}
}

func TestDiscard(t *testing.T) {
	tr := Transfer{ID: id.NewPaymentID()}
	ref, err := Discard.Forward(context.Background(), tr)
	if err != nil || ref != tr.ID.String() {
		t.Errorf("Discard.Forward = %q, %v", ref, err)
	}
}
