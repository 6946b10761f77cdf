package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"procurement-recon/internal/app"
	"procurement-recon/internal/config"
	"procurement-recon/internal/core"
	"procurement-recon/internal/store/memory"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService() app.ApplicationService {
	return app.New(memory.New(), config.AppConfig{LockTimeout: time.Second, DefaultActor: "clerk"})
}

func importPO(t *testing.T, svc app.ApplicationService) int {
	t.Helper()
	total := d("15")
	result, err := svc.ImportPurchaseOrder(context.Background(), app.ImportPurchaseOrderRequest{
		PONumber:    "PO-9",
		OrderedDate: "2026-03-01",
		Lines: []app.ImportPOLineInput{{
			LineNo: 1, MaterialCode: "GASKET", TotalOrdered: &total,
			Lots: []app.ImportPOLotInput{
				{LotNo: 1, OrderedQty: d("10"), DueDate: "2026-03-15"},
				{LotNo: 2, OrderedQty: d("5"), DueDate: "2026-04-15"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("ImportPurchaseOrder: %v", err)
	}
	po := result.PurchaseOrder
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !po.OrderedDate.Equal(want) {
		t.Errorf("expected ordered date %s, got %s", want, po.OrderedDate)
	}
	return po.Lines[0].ID
}

func TestAppService_DispatchAndInvoice(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	lineID := importPO(t, svc)

	dc, err := svc.CreateDC(ctx, app.CreateDCRequest{
		DCDate:   "2026-03-20",
		PONumber: "PO-9",
		Items: []app.DCItemInputLine{
			{POLineID: lineID, LotNo: 1, DispatchedQty: d("10")},
			{POLineID: lineID, LotNo: 2, DispatchedQty: d("2")},
			{Description: "Packing crate", Unit: "NOS", DispatchedQty: d("1")},
		},
	})
	if err != nil {
		t.Fatalf("CreateDC: %v", err)
	}
	if dc.DC.Number != "DC-2026-00001" || dc.DC.CreatedBy != "clerk" {
		t.Errorf("expected system number and default actor, got %s by %s", dc.DC.Number, dc.DC.CreatedBy)
	}
	if dc.DC.Items[2].Lot != nil {
		t.Errorf("item without lot must be manual")
	}

	lots, err := svc.LotPositions(ctx, "PO-9")
	if err != nil {
		t.Fatalf("LotPositions: %v", err)
	}
	if lots.Lots[0].DispatchStatus != core.StatusComplete || lots.Lots[1].DispatchStatus != core.StatusPartial {
		t.Errorf("unexpected lot statuses: %s, %s", lots.Lots[0].DispatchStatus, lots.Lots[1].DispatchStatus)
	}

	inv, err := svc.CreateInvoice(ctx, app.CreateInvoiceRequest{
		Actor:       "bob",
		InvoiceDate: "2026-03-25",
		IGSTRate:    d("18"),
		Items: []app.InvoiceItemInputLine{
			{DCNumber: dc.DC.Number, DCLineNo: 1, InvoicedQty: d("4"), Rate: d("12.5")},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if len(inv.Invoice.DCNumbers) != 1 || inv.Invoice.DCNumbers[0] != dc.DC.Number {
		t.Errorf("expected DC links inferred from items, got %v", inv.Invoice.DCNumbers)
	}
	if !inv.Invoice.Totals.Grand.Equal(d("59")) {
		t.Errorf("expected grand total 59, got %s", inv.Invoice.Totals.Grand)
	}

	rem, err := svc.RemainingToInvoice(ctx, dc.DC.Number, 1)
	if err != nil {
		t.Fatalf("RemainingToInvoice: %v", err)
	}
	if !rem.Remaining.Equal(d("6")) {
		t.Errorf("expected 6 left to invoice, got %s", rem.Remaining)
	}

	summary, err := svc.GetInvoice(ctx, inv.Invoice.Number)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if summary.DCStatuses[dc.DC.Number] != core.StatusPartial {
		t.Errorf("expected DC invoicing PARTIAL, got %s", summary.DCStatuses[dc.DC.Number])
	}

	list, err := svc.ListInvoices(ctx)
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(list.Invoices) != 1 {
		t.Errorf("expected one invoice, got %d", len(list.Invoices))
	}
}

func TestAppService_InvalidDatesAreRejectedTogether(t *testing.T) {
	svc := newService()

	_, err := svc.ImportPurchaseOrder(context.Background(), app.ImportPurchaseOrderRequest{
		PONumber:    "PO-1",
		OrderedDate: "01-03-2026",
		Lines: []app.ImportPOLineInput{{
			LineNo: 1, MaterialCode: "M",
			Lots: []app.ImportPOLotInput{{LotNo: 1, OrderedQty: d("1"), DueDate: "tomorrow"}},
		}},
	})
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	rejections := core.Rejections(err)
	if len(rejections) != 2 || rejections[1].Ref != "lines[0].lots[0].due_date" {
		t.Errorf("expected both dates rejected, got %+v", rejections)
	}

	if _, err := svc.ListPurchaseOrders(context.Background()); err != nil {
		t.Fatalf("ListPurchaseOrders: %v", err)
	}
}

func TestAppService_RequestSchema(t *testing.T) {
	svc := newService()

	tests := []struct {
		op       string
		contains []string
	}{
		{app.SchemaPurchaseOrder, []string{`"po_number"`, `"ordered_qty"`, `"oneOf"`}},
		{app.SchemaDC, []string{`"dispatched_qty"`, `"po_line_id"`}},
		{app.SchemaInvoice, []string{`"dc_numbers"`, `"invoiced_qty"`, `"rate"`}},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			schema, err := svc.RequestSchema(tt.op)
			if err != nil {
				t.Fatalf("RequestSchema: %v", err)
			}
			raw, err := json.Marshal(schema)
			if err != nil {
				t.Fatalf("marshal schema: %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(string(raw), want) {
					t.Errorf("schema missing %s: %s", want, raw)
				}
			}
			if strings.Contains(string(raw), `"Actor"`) {
				t.Errorf("actor must not be part of the request schema")
			}
		})
	}

	if _, err := svc.RequestSchema("payroll"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, closeFn, err := app.OpenStore(ctx, config.StoreConfig{Driver: config.DriverMemory})
	if err != nil || st == nil {
		t.Fatalf("memory store: %v", err)
	}
	closeFn()

	st, closeFn, err = app.OpenStore(ctx, config.StoreConfig{
		Driver: config.DriverSQLite, SQLitePath: "file:" + t.Name() + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	defer closeFn()
	if _, err := st.ListPurchaseOrders(ctx); err != nil {
		t.Errorf("ListPurchaseOrders on fresh sqlite store: %v", err)
	}

	if _, _, err := app.OpenStore(ctx, config.StoreConfig{Driver: "mongo"}); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}
