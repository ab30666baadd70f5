package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"goldenthreads/internal/ai"
	"goldenthreads/internal/core"
	"goldenthreads/internal/db"
	"goldenthreads/internal/notify"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	var notifier core.Notifier = notify.LogGateway{}
	if amqpURL := os.Getenv("RABBITMQ_URL"); amqpURL != "" {
		gw, err := notify.NewAMQPGateway(amqpURL, "goldenthreads.notify", 5, 2*time.Second)
		if err != nil {
			log.Printf("Warning: notification broker unavailable, falling back to log: %v", err)
		} else {
			defer gw.Close()
			notifier = gw
		}
	}

	pricing := core.NewPricingService(pool)
	inventory := core.NewInventoryService(pool)
	orders := core.NewOrderService(pool, pricing, inventory, notifier)
	production := core.NewProductionService(pool, inventory)
	billing := core.NewBillingService(pool)

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Println("Warning: OPENAI_API_KEY is not set")
	}
	agent := ai.NewAgent(apiKey)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "quote":
			if len(os.Args) < 3 {
				log.Fatal("Usage: app quote \"<customer request>\"")
			}
			draft, err := draftQuotation(ctx, agent, pricing, inventory, os.Args[2])
			if err != nil {
				log.Fatalf("Agent error: %v", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(draft)

		case "submit":
			var in core.QuotationInput
			if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
				log.Fatalf("Invalid JSON: %v", err)
			}
			order, quote, err := orders.SubmitQuotation(ctx, in)
			if err != nil {
				log.Fatalf("Quotation failed: %v", err)
			}
			fmt.Printf("Order %s created, total %s\n", order.OrderID, quote.Total.StringFixed(2))

		case "approve":
			requireArg(3, "app approve <order-id>")
			order, err := orders.ApproveOrder(ctx, os.Args[2])
			exitOn(err)
			fmt.Printf("Order %s is now %s\n", order.OrderID, order.Status)

		case "batch":
			requireArg(4, "app batch <order-id> <quantity>")
			qty, err := strconv.Atoi(os.Args[3])
			exitOn(err)
			batch, err := production.CreateBatch(ctx, os.Args[2], qty, core.StageDesigning)
			exitOn(err)
			fmt.Printf("Batch %s created for %s\n", batch.BatchID, batch.OrderRef)

		case "stage":
			requireArg(4, "app stage <batch-id> <Designing|Cutting|Sewing|Completed>")
			batch, err := production.UpdateStage(ctx, os.Args[2], core.BatchStage(os.Args[3]))
			exitOn(err)
			fmt.Printf("Batch %s at %s (%d%%)\n", batch.BatchID, batch.CurrentStage, batch.Progress)

		case "qc":
			requireArg(5, "app qc <batch-id> <inspector> <passed|failed> [defects]")
			defects := ""
			if len(os.Args) > 5 {
				defects = os.Args[5]
			}
			batch, err := production.SubmitQC(ctx, os.Args[2], os.Args[3], core.QCStatus(os.Args[4]), defects)
			exitOn(err)
			fmt.Printf("Batch %s QC: %s\n", batch.BatchID, batch.QCStatus)

		case "rework":
			requireArg(3, "app rework <batch-id>")
			batch, err := production.SendToRework(ctx, os.Args[2])
			exitOn(err)
			fmt.Printf("Batch %s back at %s (%d%%)\n", batch.BatchID, batch.CurrentStage, batch.Progress)

		case "package":
			requireArg(3, "app package <order-id>")
			order, err := orders.PackageOrder(ctx, os.Args[2])
			exitOn(err)
			fmt.Printf("Order %s is now %s\n", order.OrderID, order.Status)

		case "invoice":
			requireArg(3, "app invoice <order-id>")
			inv, err := billing.CreateInvoice(ctx, os.Args[2], decimal.Zero, nil)
			exitOn(err)
			fmt.Printf("Invoice %s for %s: %s\n", inv.InvoiceID, inv.OrderRef, inv.Amount.StringFixed(2))

		case "receipt":
			requireArg(3, "app receipt <order-id>")
			rec, err := billing.CreateReceipt(ctx, os.Args[2], decimal.Zero)
			exitOn(err)
			fmt.Printf("Receipt %s for %s: %s\n", rec.InvoiceID, rec.OrderRef, rec.Amount.StringFixed(2))

		case "stock":
			printStock(ctx, inventory)

		case "orders":
			printOrders(ctx, orders)

		default:
			log.Fatalf("Unknown command: %s", os.Args[1])
		}
	} else {
		runREPL(ctx, agent, orders, pricing, inventory)
	}
}

func requireArg(n int, usage string) {
	if len(os.Args) < n {
		log.Fatalf("Usage: %s", usage)
	}
}

func exitOn(err error) {
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func draftQuotation(ctx context.Context, agent *ai.Agent, pricing core.PricingService, inventory core.InventoryService, request string) (*ai.QuotationDraft, error) {
	rateCard, err := fetchRateCard(ctx, pricing)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rate card: %w", err)
	}
	materials, err := fetchMaterials(ctx, inventory)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch materials: %w", err)
	}
	return agent.DraftQuotation(ctx, request, rateCard, materials)
}

func fetchRateCard(ctx context.Context, pricing core.PricingService) (string, error) {
	rates, err := pricing.RateTable(ctx)
	if err != nil {
		return "", err
	}
	var lines []string
	for garment, rate := range rates {
		lines = append(lines, fmt.Sprintf("- %s: fabric %s/unit, labor %s/unit",
			garment, rate.Fabric.StringFixed(2), rate.Labor.StringFixed(2)))
	}
	return strings.Join(lines, "\n"), nil
}

func fetchMaterials(ctx context.Context, inventory core.InventoryService) (string, error) {
	items, err := inventory.ListManagement(ctx)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("- %s %s: %s %s at %s",
			it.SKU, it.Name, it.Quantity.String(), it.Unit, it.UnitPrice.StringFixed(2)))
	}
	return strings.Join(lines, "\n"), nil
}

func runREPL(ctx context.Context, agent *ai.Agent, orders core.OrderService, pricing core.PricingService, inventory core.InventoryService) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Golden Threads Quotation REPL")
	fmt.Println("Type 'stock' or 'orders' to see current state.")
	fmt.Println("-----------------------")

	var errExit = fmt.Errorf("exit repl")
	commands := map[string]func() error{
		"stock": func() error {
			printStock(ctx, inventory)
			return nil
		},
		"orders": func() error {
			printOrders(ctx, orders)
			return nil
		},
		"help": func() error {
			fmt.Println("Available commands: stock, orders, help, exit, quit")
			return nil
		},
		"exit": func() error { return errExit },
		"quit": func() error { return errExit },
	}

	for {
		fmt.Print("\n> ")
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		tokens := strings.Fields(input)
		if len(tokens) == 1 {
			cmdStr := strings.ToLower(tokens[0])
			if cmd, exists := commands[cmdStr]; exists {
				if err := cmd(); err != nil {
					if err == errExit {
						break
					}
					fmt.Printf("[REPL] Error: %v\n", err)
				}
				continue
			}

			fmt.Printf("Unknown command: %s\n", tokens[0])
			continue
		}

		fmt.Println("[AI] Drafting quotation...")

		draft, err := draftQuotation(ctx, agent, pricing, inventory, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		printDraft(draft)
		if draft.Confidence < 0.6 {
			fmt.Println("\nWARNING: Low confidence draft.")
		}

		fmt.Print("\nSubmit this quotation? (y/n): ")
		choice, _ := reader.ReadString('\n')
		choice = strings.TrimSpace(strings.ToLower(choice))

		if choice == "y" || choice == "yes" {
			in, err := draft.ToInput()
			if err != nil {
				fmt.Printf("Draft invalid: %v\n", err)
				continue
			}
			order, quote, err := orders.SubmitQuotation(ctx, in)
			if err != nil {
				fmt.Printf("Quotation FAILED: %v\n", err)
			} else {
				fmt.Printf("Order %s created, total %s\n", order.OrderID, quote.Total.StringFixed(2))
			}
		} else {
			fmt.Println("Quotation Cancelled.")
		}
	}
}

func printStock(ctx context.Context, inventory core.InventoryService) {
	items, err := inventory.ListManagement(ctx)
	if err != nil {
		log.Printf("Failed to list materials: %v", err)
		return
	}
	fmt.Println("\n--- RAW MATERIALS ---")
	fmt.Printf("%-14s %-26s %10s %-6s %10s\n", "SKU", "NAME", "QTY", "UNIT", "PRICE")
	fmt.Println(strings.Repeat("-", 72))
	for _, it := range items {
		flag := ""
		if it.LowStock {
			flag = "  LOW"
		}
		fmt.Printf("%-14s %-26s %10s %-6s %10s%s\n",
			it.SKU, it.Name, it.Quantity.String(), it.Unit, it.UnitPrice.StringFixed(2), flag)
	}

	lots, err := inventory.ListCatalog(ctx)
	if err != nil {
		log.Printf("Failed to list catalog: %v", err)
		return
	}
	fmt.Println("\n--- FINISHED GOODS ---")
	fmt.Printf("%-20s %-30s %10s %10s\n", "SKU", "NAME", "QTY", "PRICE")
	fmt.Println(strings.Repeat("-", 74))
	for _, lot := range lots {
		fmt.Printf("%-20s %-30s %10s %10s\n",
			lot.SKU, lot.Name, lot.Quantity.String(), lot.UnitPrice.StringFixed(2))
	}
}

func printOrders(ctx context.Context, orders core.OrderService) {
	list, err := orders.GetOrders(ctx)
	if err != nil {
		log.Printf("Failed to list orders: %v", err)
		return
	}
	fmt.Println("\n--- ORDERS ---")
	fmt.Printf("%-14s %-20s %-12s %5s %12s %-20s\n", "ORDER", "CUSTOMER", "GARMENT", "QTY", "AMOUNT", "STATUS")
	fmt.Println(strings.Repeat("-", 88))
	for _, o := range list {
		fmt.Printf("%-14s %-20s %-12s %5d %12s %-20s\n",
			o.OrderID, o.CustomerName, o.GarmentType, o.Quantity,
			o.QuotedAmount.StringFixed(2), o.Status)
	}
}

func printDraft(d *ai.QuotationDraft) {
	fmt.Printf("\nCUSTOMER:   %s\n", d.CustomerName)
	fmt.Printf("GARMENT:    %s (%s, %s)\n", d.GarmentType, d.OrderType, d.DeliveryType)
	fmt.Println("SIZES:")
	for _, s := range d.Sizes {
		fmt.Printf("  %-4s x %d\n", s.Size, s.Quantity)
	}
	if len(d.Fabrics) > 0 {
		fmt.Println("FABRICS:")
		for _, f := range d.Fabrics {
			fmt.Printf("  %s (%s): %s yd at %s\n", f.Name, f.SKU, f.Yards, f.PricePerYd)
		}
	}
	fmt.Printf("REASONING:  %s\n", d.Reasoning)
	fmt.Printf("CONFIDENCE: %.2f\n", d.Confidence)
}
