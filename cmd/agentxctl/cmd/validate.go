package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentxhub/agentx/internal/protocol"
)

var validateMaxMessageSize int

var validateCmd = &cobra.Command{
	Use:   "validate <message.json>",
	Short: "Validate a canonical Message against the wire protocol rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("parse %s as a Message: %w", args[0], err)
		}

		validator := protocol.NewValidator(validateMaxMessageSize)
		if err := validator.ValidateMessage(&msg); err != nil {
			fmt.Printf("invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("valid: messageId=%s parts=%d\n", msg.MessageID, len(msg.Parts))
		return nil
	},
}

func init() {
	validateCmd.Flags().IntVar(&validateMaxMessageSize, "max-message-size", 1<<20, "maxMessageSize ceiling in bytes")
}
