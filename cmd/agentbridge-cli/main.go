package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	apiHost string
	client  = &http.Client{Timeout: 15 * time.Second}
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "agentbridge-cli",
		Short: "CLI para operar AgentBridge",
		Long:  `Una herramienta de línea de comandos para consultar llamadas y controlar el hold de agentes de forma remota.`,
	}

	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://localhost:3000", "URL base de la API")

	var callsCmd = &cobra.Command{
		Use:   "calls",
		Short: "Listar llamadas activas",
		RunE:  runCalls,
	}

	var callCmd = &cobra.Command{
		Use:   "call [id]",
		Short: "Ver el detalle de una llamada",
		Args:  cobra.ExactArgs(1),
		RunE:  runCall,
	}

	var holdCmd = &cobra.Command{
		Use:   "hold [agent]",
		Short: "Poner en espera al cliente del agente",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHoldAction("hold", args[0])
		},
	}

	var unholdCmd = &cobra.Command{
		Use:   "unhold [agent]",
		Short: "Devolver al cliente del agente al puente",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHoldAction("unhold", args[0])
		},
	}

	var watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Seguir en vivo los eventos de llamadas",
		RunE:  runWatch,
	}
	watchCmd.Flags().String("agent", "", "Filtrar por agente")

	var healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Estado del servicio y de la sesión ARI",
		RunE:  runHealth,
	}

	rootCmd.AddCommand(callsCmd, callCmd, holdCmd, unholdCmd, watchCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// --- HANDLERS ---

type callView struct {
	Incoming string `json:"incoming"`
	Outgoing string `json:"outgoing"`
	Bridge   string `json:"bridge"`
}

func runCalls(cmd *cobra.Command, args []string) error {
	var calls map[string]callView
	if err := getJSON("/calls", &calls); err != nil {
		return err
	}
	if len(calls) == 0 {
		fmt.Println("No hay llamadas activas.")
		return nil
	}

	ids := make([]string, 0, len(calls))
	for id := range calls {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tENTRANTE\tAGENTE\tPUENTE")
	fmt.Fprintln(w, "--\t--------\t------\t------")
	for _, id := range ids {
		c := calls[id]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, c.Incoming, c.Outgoing, c.Bridge)
	}
	return w.Flush()
}

func runCall(cmd *cobra.Command, args []string) error {
	var detail map[string]any
	if err := getJSON("/calls/"+url.PathEscape(args[0]), &detail); err != nil {
		return err
	}
	out, _ := json.MarshalIndent(detail, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runHoldAction(action, agent string) error {
	u := fmt.Sprintf("%s/%s?agent=%s", apiHost, action, url.QueryEscape(agent))
	resp, err := client.Post(u, "application/json", nil)
	if err != nil {
		return fmt.Errorf("error conectando a API: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error API (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Printf("%s aplicado al agente %s.\n", action, agent)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health struct {
		Status string `json:"status"`
		ARI    bool   `json:"ari"`
	}
	if err := getJSON("/health", &health); err != nil {
		return err
	}
	fmt.Printf("Servicio: %s\nARI conectado: %v\n", health.Status, health.ARI)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	u, err := url.Parse(apiHost)
	if err != nil {
		return fmt.Errorf("host inválido: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	if agent, _ := cmd.Flags().GetString("agent"); agent != "" {
		u.RawQuery = url.Values{"agent": {agent}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("error conectando a %s: %w", u, err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	fmt.Printf("Escuchando eventos en %s (Ctrl+C para salir)\n", u)
	for {
		var msg struct {
			Type string `json:"type"`
			Data struct {
				CallID  string   `json:"call_id"`
				Agent   string   `json:"agent"`
				Channel string   `json:"channel"`
				Call    callView `json:"call"`
			} `json:"data"`
			Timestamp time.Time `json:"timestamp"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("conexión cerrada: %w", err)
		}
		fmt.Printf("%s  %-16s %-24s agente=%s canal=%s puente=%s\n",
			msg.Timestamp.Format("15:04:05.000"), msg.Type, msg.Data.CallID,
			msg.Data.Agent, msg.Data.Channel, msg.Data.Call.Bridge)
	}
}

// Helpers
func getJSON(path string, v any) error {
	resp, err := client.Get(apiHost + path)
	if err != nil {
		return fmt.Errorf("error conectando a API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("error API (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
