package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/krill-network/krill/internal/domain"
)

func init() {
	paymentsCmd.Flags().StringVarP(&paymentsTask, "task", "t", "", "Only show payments for this task")
	rootCmd.AddCommand(paymentsCmd)

	confirmPaymentCmd.Flags().StringVar(&confirmTxID, "tx", "", "On-chain transaction id")
	confirmPaymentCmd.Flags().Int64Var(&confirmBlock, "block", 0, "Block number the transaction landed in")
	confirmPaymentCmd.MarkFlagRequired("tx")
	confirmPaymentCmd.MarkFlagRequired("block")
	rootCmd.AddCommand(confirmPaymentCmd)
}

var (
	paymentsTask string
	confirmTxID  string
	confirmBlock int64
)

var confirmPaymentCmd = &cobra.Command{
	Use:   "confirm-payment SUBTASK_ID",
	Short: "Record the on-chain transaction that paid a settled subtask",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"transaction_id": confirmTxID, "block_number": confirmBlock}
		if err := postJSON("/api/payments/"+args[0]+"/confirm", req, nil); err != nil {
			return err
		}
		fmt.Printf("Confirmed payment for subtask %s\n", args[0])
		return nil
	},
}

var paymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "List subtask payments recorded in the local ledger",
	RunE:  runPayments,
}

func runPayments(cmd *cobra.Command, args []string) error {
	path := "/api/payments"
	if paymentsTask != "" {
		path = "/api/tasks/" + paymentsTask + "/payments"
	}

	var records []domain.PaymentRecord
	if err := getJSON(path, &records); err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No payments recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBTASK\tTASK\tVALUE\tSTATUS\tSETTLED")
	for _, rec := range records {
		settled := "-"
		if !rec.SettledAt.IsZero() {
			settled = rec.SettledAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.SubtaskID,
			rec.TaskID,
			rec.Value.String(),
			rec.Status,
			settled,
		)
	}
	return w.Flush()
}
