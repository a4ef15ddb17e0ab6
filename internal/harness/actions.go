package harness

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/posync/internal/pos"
	"github.com/roach88/posync/internal/terminal"
)

// Action names.
const (
	ActionAuthorityDown   = "authority.down"
	ActionAuthorityUp     = "authority.up"
	ActionAuthorityReject = "authority.reject"
	ActionProbe           = "terminal.probe"
	ActionSync            = "terminal.sync"
	ActionStatus          = "terminal.status"
	ActionProductFind     = "product.find"
	ActionProductSearch   = "product.search"
	ActionSaleCreate      = "sale.create"
	ActionStockAdjust     = "stock.adjust"
	ActionQueueFailed     = "queue.failed"
	ActionQueueRequeue    = "queue.requeue"
)

func knownAction(name string) bool {
	switch name {
	case ActionAuthorityDown, ActionAuthorityUp, ActionAuthorityReject,
		ActionProbe, ActionSync, ActionStatus,
		ActionProductFind, ActionProductSearch, ActionSaleCreate, ActionStockAdjust,
		ActionQueueFailed, ActionQueueRequeue:
		return true
	}
	return false
}

// invoke performs one action. opErr is the operation's own failure and
// becomes the completion case; err means the step itself is malformed.
func (h *Harness) invoke(ctx context.Context, action string, args map[string]any) (result map[string]any, opErr, err error) {
	t := h.term
	switch action {
	case ActionAuthorityDown:
		return nil, nil, h.setAuthority(false)
	case ActionAuthorityUp:
		return nil, nil, h.setAuthority(true)
	case ActionAuthorityReject:
		if h.fake == nil {
			return nil, nil, fmt.Errorf("%s needs the remote topology", action)
		}
		id, err := argString(args, "local_id")
		if err != nil {
			return nil, nil, err
		}
		h.fake.Reject(id)
		return nil, nil, nil

	case ActionProbe:
		state := t.Probe(ctx)
		return map[string]any{"mode": string(state.Mode)}, nil, nil
	case ActionSync:
		ok := t.ForceSync(ctx)
		out := statusResult(t.GetStatus(ctx))
		out["ok"] = ok
		return out, nil, nil
	case ActionStatus:
		return statusResult(t.GetStatus(ctx)), nil, nil

	case ActionProductFind:
		code, err := argString(args, "code")
		if err != nil {
			return nil, nil, err
		}
		p, opErr := t.FindProduct(ctx, code)
		if opErr != nil {
			return nil, opErr, nil
		}
		return productResult(p), nil, nil
	case ActionProductSearch:
		term, err := argString(args, "term")
		if err != nil {
			return nil, nil, err
		}
		found, opErr := t.SearchProducts(ctx, term)
		if opErr != nil {
			return nil, opErr, nil
		}
		codes := make([]any, len(found))
		for i, p := range found {
			codes[i] = p.Code
		}
		return map[string]any{"count": len(found), "codes": codes}, nil, nil

	case ActionSaleCreate:
		req, err := saleRequest(args)
		if err != nil {
			return nil, nil, err
		}
		sale, opErr := t.CreateSale(ctx, req)
		if opErr != nil {
			return nil, opErr, nil
		}
		return map[string]any{
			"local_id": sale.LocalID,
			"total":    sale.Total.StringFixed(pos.MinorUnitPlaces),
			"synced":   sale.Synced,
		}, nil, nil
	case ActionStockAdjust:
		code, err := argString(args, "code")
		if err != nil {
			return nil, nil, err
		}
		delta, err := argInt(args, "delta")
		if err != nil {
			return nil, nil, err
		}
		reason, _ := args["reason"].(string)
		adj, opErr := t.AdjustStock(ctx, code, delta, reason)
		if opErr != nil {
			return nil, opErr, nil
		}
		return map[string]any{"local_id": adj.LocalID, "code": adj.Code, "delta": int(adj.Delta)}, nil, nil

	case ActionQueueFailed:
		ops, opErr := t.FailedOperations(ctx)
		if opErr != nil {
			return nil, opErr, nil
		}
		keys := make([]any, len(ops))
		for i, op := range ops {
			keys[i] = op.IdempotencyKey
		}
		return map[string]any{"count": len(ops), "keys": keys}, nil, nil
	case ActionQueueRequeue:
		key, err := argString(args, "local_id")
		if err != nil {
			return nil, nil, err
		}
		ops, opErr := t.FailedOperations(ctx)
		if opErr != nil {
			return nil, opErr, nil
		}
		for _, op := range ops {
			if op.IdempotencyKey == key {
				if opErr := t.Requeue(ctx, op.ID); opErr != nil {
					return nil, opErr, nil
				}
				return statusResult(t.GetStatus(ctx)), nil, nil
			}
		}
		return nil, fmt.Errorf("no failed operation for %s: %w", key, pos.ErrNotFound), nil
	}
	return nil, nil, fmt.Errorf("unknown action %q", action)
}

// setAuthority cuts or restores the authority. In the shared topology the
// share directory is moved away and back, like a dropped mount.
func (h *Harness) setAuthority(up bool) error {
	if h.fake != nil {
		h.fake.SetDown(!up)
		return nil
	}
	hidden := h.share + ".unmounted"
	if up {
		if _, err := os.Stat(hidden); os.IsNotExist(err) {
			return nil
		}
		return os.Rename(hidden, h.share)
	}
	if _, err := os.Stat(h.share); os.IsNotExist(err) {
		return nil
	}
	return os.Rename(h.share, hidden)
}

func statusResult(s pos.Status) map[string]any {
	return map[string]any{
		"mode":    string(s.Connection.Mode),
		"pending": s.PendingCount,
		"failed":  s.FailedCount,
		"cache":   s.CacheSize,
	}
}

func productResult(p pos.Product) map[string]any {
	return map[string]any{
		"code":        p.Code,
		"description": p.Description,
		"price":       p.Price.StringFixed(pos.MinorUnitPlaces),
		"stock":       int(p.StockQuantity),
	}
}

func saleRequest(args map[string]any) (terminal.SaleRequest, error) {
	req := terminal.SaleRequest{PaymentMethod: pos.PaymentCash}
	if method, ok := args["payment"].(string); ok {
		req.PaymentMethod = pos.PaymentMethod(method)
	}
	lines, ok := args["lines"].([]any)
	if !ok {
		return req, fmt.Errorf("sale.create: lines must be a list")
	}
	for i, raw := range lines {
		line, ok := raw.(map[string]any)
		if !ok {
			return req, fmt.Errorf("sale.create: lines[%d] must be a map", i)
		}
		qty, err := argInt(line, "quantity")
		if err != nil {
			return req, fmt.Errorf("sale.create: lines[%d]: %w", i, err)
		}
		code, _ := line["code"].(string)
		var id int64
		if _, ok := line["product_id"]; ok {
			if id, err = argInt(line, "product_id"); err != nil {
				return req, fmt.Errorf("sale.create: lines[%d]: %w", i, err)
			}
		}
		req.Lines = append(req.Lines, terminal.SaleLineRequest{Code: code, ProductID: id, Quantity: qty})
	}
	return req, nil
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok {
		return "", fmt.Errorf("arg %q must be a string", key)
	}
	return v, nil
}

// argInt accepts the integer shapes YAML decoding produces.
func argInt(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	}
	return 0, fmt.Errorf("arg %q must be an integer, got %v", key, args[key])
}
