package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local node's identity and activity",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status struct {
		Version string `json:"version"`
		Node    struct {
			Name   string `json:"name"`
			PubKey string `json:"pub_key"`
		} `json:"node"`
		Tasks       int `json:"tasks"`
		Headers     int `json:"known_headers"`
		Assignments int `json:"assignments"`
	}
	if err := getJSON("/api/status", &status); err != nil {
		return err
	}

	fmt.Printf("Node:         %s\n", status.Node.Name)
	fmt.Printf("Identity:     %s\n", status.Node.PubKey)
	fmt.Printf("Version:      %s\n", status.Version)
	fmt.Printf("Tasks:        %d\n", status.Tasks)
	fmt.Printf("Known tasks:  %d\n", status.Headers)
	fmt.Printf("Assignments:  %d\n", status.Assignments)
	return nil
}
