package cmd

import (
	"github.com/vportnov.me/arbot/audit"
	"github.com/vportnov.me/arbot/config"
	"github.com/vportnov.me/arbot/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent attempt records",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			log.Fatal("Failed to load configuration", zap.Error(err))
		}
		recorder, err := audit.NewRecorder(cfg.AuditDBPath, log)
		if err != nil {
			log.Fatal("Failed to open audit store", zap.Error(err))
		}
		defer recorder.Close()

		records, err := recorder.Recent(cmd.Context(), auditLimit)
		if err != nil {
			log.Fatal("Failed to read audit records", zap.Error(err))
		}
		for _, rec := range records {
			log.Info("attempt",
				zap.String("attempt_id", rec.AttemptID),
				zap.String("path", rec.Path),
				zap.String("status", rec.Status),
				zap.String("sell_router", rec.SellRouter),
				zap.String("buy_router", rec.BuyRouter),
				zap.String("amount_in", rec.AmountIn),
				zap.String("profit", rec.Profit),
				zap.Bool("checked", rec.Checked),
				zap.Bool("intact", rec.Verify()),
			)
		}
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum records to show")
}
