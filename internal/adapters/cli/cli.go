package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"procurement-recon/internal/app"
	"procurement-recon/internal/core"
)

const usage = `Available:
  import-po            < po.json
  create-dc            < dc.json
  create-invoice       < invoice.json
  delete-dc <number>
  delete-invoice <number>
  po <po-number>       purchase order summary
  lots <po-number>     lot-wise remaining quantities
  dcs [po-number]      DCs of a purchase order (unlinked DCs without one)
  dc <number>          DC with per-item invoicing position
  invoice <number>
  schema <purchase-order|dc|invoice>
Options:
  --as <actor>         record the change under this actor`

// Run executes a one-shot CLI command. args is os.Args[1:]: the first element is the
// subcommand name. Write requests are read as JSON from in.
func Run(ctx context.Context, svc app.ApplicationService, args []string, in io.Reader, out io.Writer) error {
	actor, args := extractActor(args)
	if len(args) == 0 {
		return fmt.Errorf("no command given\n%s", usage)
	}

	arg := func() (string, error) {
		if len(args) < 2 || args[1] == "" {
			return "", fmt.Errorf("usage: app %s <number>", args[0])
		}
		return args[1], nil
	}

	switch args[0] {
	case "import-po":
		var req app.ImportPurchaseOrderRequest
		if err := decode(in, &req); err != nil {
			return err
		}
		req.Actor = actor
		result, err := svc.ImportPurchaseOrder(ctx, req)
		if err != nil {
			return report(out, err)
		}
		printPurchaseOrder(out, result.PurchaseOrder)

	case "create-dc":
		var req app.CreateDCRequest
		if err := decode(in, &req); err != nil {
			return err
		}
		req.Actor = actor
		result, err := svc.CreateDC(ctx, req)
		if err != nil {
			return report(out, err)
		}
		fmt.Fprintf(out, "DC %s committed (%d items). PO dispatch status: %s\n",
			result.DC.Number, len(result.DC.Items), result.DispatchStatus)

	case "create-invoice":
		var req app.CreateInvoiceRequest
		if err := decode(in, &req); err != nil {
			return err
		}
		req.Actor = actor
		result, err := svc.CreateInvoice(ctx, req)
		if err != nil {
			return report(out, err)
		}
		printInvoice(out, result.Invoice)
		for _, n := range result.Invoice.DCNumbers {
			fmt.Fprintf(out, "  DC %-20s invoicing %s\n", n, result.DCStatuses[n])
		}

	case "delete-dc":
		n, err := arg()
		if err != nil {
			return err
		}
		if err := svc.DeleteDC(ctx, actor, n); err != nil {
			return report(out, err)
		}
		fmt.Fprintf(out, "DC %s deleted.\n", n)

	case "delete-invoice":
		n, err := arg()
		if err != nil {
			return err
		}
		if err := svc.DeleteInvoice(ctx, actor, n); err != nil {
			return report(out, err)
		}
		fmt.Fprintf(out, "Invoice %s deleted.\n", n)

	case "po":
		n, err := arg()
		if err != nil {
			return err
		}
		summary, err := svc.GetPurchaseOrder(ctx, n)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Purchase order %s  dispatch: %s  invoicing: %s\n", summary.PO.Number, summary.DispatchStatus, summary.InvoiceStatus)
		printLots(out, summary.Lots)

	case "lots":
		n, err := arg()
		if err != nil {
			return err
		}
		result, err := svc.LotPositions(ctx, n)
		if err != nil {
			return err
		}
		printLots(out, result.Lots)

	case "dcs":
		po := ""
		if len(args) > 1 {
			po = args[1]
		}
		result, err := svc.ListDCs(ctx, po)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %-20s %-12s %-20s %6s\n", "DC", "DATE", "CONSIGNEE", "ITEMS")
		fmt.Fprintln(out, strings.Repeat("-", 62))
		for _, dc := range result.DCs {
			fmt.Fprintf(out, "  %-20s %-12s %-20s %6d\n", dc.Number, dc.Date.Format("2006-01-02"), dc.Consignee, len(dc.Items))
		}

	case "dc":
		n, err := arg()
		if err != nil {
			return err
		}
		summary, err := svc.GetDC(ctx, n)
		if err != nil {
			return err
		}
		printDC(out, summary)

	case "invoice":
		n, err := arg()
		if err != nil {
			return err
		}
		summary, err := svc.GetInvoice(ctx, n)
		if err != nil {
			return err
		}
		printInvoice(out, summary.Invoice)

	case "schema":
		op, err := arg()
		if err != nil {
			return err
		}
		schema, err := svc.RequestSchema(op)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(schema)

	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}
	return nil
}

// extractActor removes a leading or trailing "--as <actor>" pair from args.
func extractActor(args []string) (string, []string) {
	rest := make([]string, 0, len(args))
	actor := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--as" && i+1 < len(args) {
			actor = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	return actor, rest
}

func decode(in io.Reader, v any) error {
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// report prints the rejection list or dependents of a refused write before returning err.
func report(out io.Writer, err error) error {
	if rejections := core.Rejections(err); len(rejections) > 0 {
		fmt.Fprintln(out, "Rejected, nothing was written:")
		fmt.Fprintf(out, "  %-34s %12s %12s  %s\n", "REF", "REQUESTED", "AVAILABLE", "REASON")
		fmt.Fprintln(out, strings.Repeat("-", 90))
		for _, r := range rejections {
			fmt.Fprintf(out, "  %-34s %12s %12s  %s\n", r.Ref, r.Requested.String(), r.Available.String(), r.Reason)
		}
		return err
	}
	var conflict *core.ConflictError
	if errors.As(err, &conflict) && len(conflict.Dependents) > 0 {
		fmt.Fprintf(out, "Refused: %s\n", conflict.Reason)
		for _, d := range conflict.Dependents {
			fmt.Fprintf(out, "  - %s\n", d)
		}
	}
	return err
}

func printPurchaseOrder(out io.Writer, po *core.PurchaseOrder) {
	fmt.Fprintf(out, "Purchase order %s imported.\n", po.Number)
	fmt.Fprintf(out, "  %-8s %-6s %-16s %6s %12s\n", "LINE ID", "LINE", "MATERIAL", "LOT", "ORDERED")
	fmt.Fprintln(out, strings.Repeat("-", 54))
	for _, l := range po.Lines {
		for _, lot := range l.Lots {
			fmt.Fprintf(out, "  %-8d %-6d %-16s %6d %12s\n", l.ID, l.LineNo, l.MaterialCode, lot.LotNo, lot.OrderedQty.String())
		}
	}
}

func printLots(out io.Writer, lots []core.LotPosition) {
	fmt.Fprintln(out, strings.Repeat("=", 100))
	fmt.Fprintf(out, "  %-6s %-14s %4s %10s %10s %10s %10s %10s  %-8s %-8s\n",
		"LINE", "MATERIAL", "LOT", "ORDERED", "DISPATCHED", "INVOICED", "TO DISP.", "TO INV.", "DISPATCH", "INVOICE")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, p := range lots {
		fmt.Fprintf(out, "  %-6d %-14s %4d %10s %10s %10s %10s %10s  %-8s %-8s\n",
			p.LineNo, p.MaterialCode, p.LotNo,
			p.OrderedQty.String(), p.DispatchedQty.String(), p.InvoicedQty.String(),
			p.RemainingToDispatch.String(), p.RemainingToInvoice.String(),
			p.DispatchStatus, p.InvoiceStatus)
	}
	fmt.Fprintln(out, strings.Repeat("=", 100))
}

func printDC(out io.Writer, s *core.DCSummary) {
	po := s.DC.PONumber
	if po == "" {
		po = "(none)"
	}
	fmt.Fprintf(out, "DC %s  date %s  PO %s  invoicing: %s\n", s.DC.Number, s.DC.Date.Format("2006-01-02"), po, s.InvoiceStatus)
	fmt.Fprintf(out, "  %-4s %-18s %12s %12s %12s  %-8s\n", "LINE", "LOT", "DISPATCHED", "INVOICED", "REMAINING", "STATUS")
	fmt.Fprintln(out, strings.Repeat("-", 76))
	for _, it := range s.Items {
		lot := "manual"
		if it.Lot != nil {
			lot = it.Lot.String()
		}
		fmt.Fprintf(out, "  %-4d %-18s %12s %12s %12s  %-8s\n",
			it.LineNo, lot, it.DispatchedQty.String(), it.InvoicedQty.String(), it.RemainingToInvoice.String(), it.Status)
	}
	if len(s.Invoices) > 0 {
		fmt.Fprintf(out, "Invoices: %s\n", strings.Join(s.Invoices, ", "))
	}
}

func printInvoice(out io.Writer, inv *core.Invoice) {
	fmt.Fprintf(out, "Invoice %s  date %s  PO %s  DCs %s\n", inv.Number, inv.Date.Format("2006-01-02"), inv.PONumber, strings.Join(inv.DCNumbers, ", "))
	fmt.Fprintf(out, "  %-4s %-22s %12s %12s\n", "LINE", "DC ITEM", "QTY", "RATE")
	fmt.Fprintln(out, strings.Repeat("-", 56))
	for _, it := range inv.Items {
		fmt.Fprintf(out, "  %-4d %-22s %12s %12s\n", it.LineNo, it.DCItem.String(), it.InvoicedQty.String(), it.Rate.String())
	}
	fmt.Fprintln(out, strings.Repeat("-", 56))
	fmt.Fprintf(out, "  %-40s %15s\n", "Taxable", inv.Totals.Taxable.StringFixed(2))
	fmt.Fprintf(out, "  %-40s %15s\n", "CGST", inv.Totals.CGST.StringFixed(2))
	fmt.Fprintf(out, "  %-40s %15s\n", "SGST", inv.Totals.SGST.StringFixed(2))
	fmt.Fprintf(out, "  %-40s %15s\n", "IGST", inv.Totals.IGST.StringFixed(2))
	fmt.Fprintf(out, "  %-40s %15s\n", "Grand total", inv.Totals.Grand.StringFixed(2))
}
