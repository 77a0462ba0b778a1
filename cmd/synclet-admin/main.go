// Command synclet-admin serves the OTP-gated handshake endpoint and
// doubles as an interactive console for requesting one-time passwords
// against a running receiver's admin port.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Raqibreyaz/synclet/internal/config"
	"github.com/Raqibreyaz/synclet/internal/server"
	"github.com/Raqibreyaz/synclet/pkg/log"
)

func main() {
	var debug bool
	var serveAddr, serveSecret string
	var consoleTarget string

	root := &cobra.Command{
		Use:   "synclet-admin",
		Short: "Serve or query the synclet admin OTP endpoint",
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP server that issues one-time passwords",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				log.SetLevel(log.LevelDebug)
			}
			log.SetTag("admin")
			config.SetMode(config.AdminMode)

			return server.New(serveAddr, serveSecret).Run()
		},
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":10000", "address for the admin HTTP server to listen on")
	serveCmd.Flags().StringVar(&serveSecret, "secret", "", "shared secret required on the 't' query parameter")

	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive REPL for requesting OTPs from a running admin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				log.SetLevel(log.LevelDebug)
			}
			log.SetTag("admin")
			runConsole(consoleTarget)
			return nil
		},
	}
	consoleCmd.Flags().StringVar(&consoleTarget, "url", "http://localhost:10000/admin/generateOtp?t=SECRETKEY", "full admin OTP endpoint URL, including the secret query parameter")

	root.AddCommand(serveCmd, consoleCmd)

	if err := root.Execute(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func runConsole(url string) {
	log.Info("Admin console")
	log.Info("Commands: new-otp, exit")

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("> ")
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "new-otp":
			requestOtp(url)
		case "exit":
			return
		default:
			log.Error("Unknown command.")
		}
	}
}

func requestOtp(url string) {
	resp, err := http.Get(url)
	if err != nil {
		log.Error("Error retrieving otp, is the admin server running? %v", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Something went wrong while generating otp: %s", err.Error())
		return
	}

	if resp.StatusCode != http.StatusOK {
		log.Error("Admin server rejected the request: %s", string(body))
		return
	}

	log.Info("Generated otp: %s", string(body))
}
