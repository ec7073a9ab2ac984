package interfaces

import (
	"context"
	"errors"
	"testing"
)

// TestMediaItemValidate tests the identity rules of MediaItem
func TestMediaItemValidate(t *testing.T) {
	t.Run("Valid item", func(t *testing.T) {
		item := MediaItem[int]{ID: "a", ResourceURL: "https://example.com/a.mp4", Payload: 3}
		if err := item.Validate(); err != nil {
			t.Errorf("Validate() should not return error for valid item, got: %v", err)
		}
	})

	t.Run("Empty URL is allowed", func(t *testing.T) {
		item := MediaItem[string]{ID: "b"}
		if err := item.Validate(); err != nil {
			t.Errorf("Validate() should accept an item without resource URL, got: %v", err)
		}
	})

	t.Run("Blank ID is rejected", func(t *testing.T) {
		item := MediaItem[string]{ID: "  ", ResourceURL: "https://example.com/c.mp4"}
		if err := item.Validate(); err == nil {
			t.Error("Validate() should reject a blank ID")
		}
	})
}

// TestItemSourceFunc tests the function adapter
func TestItemSourceFunc(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("offline")

	var src ItemSource[int] = ItemSourceFunc[int](func(ctx context.Context, page int) ([]MediaItem[int], error) {
		if page > 0 {
			return nil, wantErr
		}
		return []MediaItem[int]{{ID: "x", Payload: page}}, nil
	})

	items, err := src.FetchPage(ctx, 0)
	if err != nil {
		t.Fatalf("FetchPage(0) returned error: %v", err)
	}
	if len(items) != 1 || items[0].ID != "x" {
		t.Errorf("FetchPage(0) = %v, want one item x", items)
	}

	if _, err := src.FetchPage(ctx, 1); !errors.Is(err, wantErr) {
		t.Errorf("FetchPage(1) error = %v, want %v", err, wantErr)
	}
}
