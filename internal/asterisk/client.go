// Package asterisk conecta con Asterisk vía ARI: entrega los eventos de la
// aplicación Stasis al enrutador y ejecuta sus comandos de puentes y canales.
package asterisk

import (
	"context"
	"fmt"
	"sync"

	"github.com/CyCoreSystems/ari/v5"
	"github.com/CyCoreSystems/ari/v5/client/native"
	"github.com/sirupsen/logrus"

	"agentbridge/internal/config"
	"agentbridge/internal/routing"
)

// eventBuffer es la capacidad del canal de eventos hacia la máquina de estados
const eventBuffer = 2000

// Client representa una sesión ARI para una aplicación Stasis
type Client struct {
	cfg    config.ARIConfig
	ari    ari.Client
	log    logrus.FieldLogger
	sub    ari.Subscription
	events chan routing.SessionEvent
	done   chan struct{}
	once   sync.Once
}

// Connect abre la sesión ARI y se suscribe a los eventos de la aplicación
func Connect(cfg config.ARIConfig, log logrus.FieldLogger) (*Client, error) {
	log.WithFields(logrus.Fields{"url": cfg.URL, "app": cfg.Application}).Info("Conectando a ARI")

	cl, err := native.Connect(&native.Options{
		Application:  cfg.Application,
		Username:     cfg.Username,
		Password:     cfg.Password,
		URL:          cfg.URL,
		WebsocketURL: cfg.WebsocketURL,
	})
	if err != nil {
		return nil, fmt.Errorf("error conectando a ARI: %w", err)
	}

	log.Info("Conectado a ARI")
	return newClient(cfg, cl, log), nil
}

// newClient se suscribe de inmediato para no perder StasisStart anteriores a Listen
func newClient(cfg config.ARIConfig, cl ari.Client, log logrus.FieldLogger) *Client {
	return &Client{
		cfg:    cfg,
		ari:    cl,
		log:    log,
		sub:    cl.Bus().Subscribe(nil, ari.Events.StasisStart, ari.Events.StasisEnd),
		events: make(chan routing.SessionEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events devuelve el flujo de eventos de sesión en orden de llegada
func (c *Client) Events() <-chan routing.SessionEvent {
	return c.events
}

// Listen traduce los eventos StasisStart/StasisEnd hasta que ctx termine.
// Cierra el canal de Events al salir.
func (c *Client) Listen(ctx context.Context) {
	defer close(c.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case e, ok := <-c.sub.Events():
			if !ok {
				c.log.Warn("Suscripción ARI cerrada")
				return
			}
			ev, ok := Translate(e)
			if !ok {
				continue
			}
			select {
			case c.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Orchestrator devuelve el ejecutor de comandos de esta sesión
func (c *Client) Orchestrator() *Orchestrator {
	return NewOrchestrator(c.ari, c.cfg.Application, c.log)
}

// Connected indica si el websocket ARI está activo
func (c *Client) Connected() bool {
	return c.ari.Connected()
}

// Close cierra la sesión ARI
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.sub.Cancel()
		c.ari.Close()
	})
}

// Translate convierte un evento ARI en un evento de sesión del enrutador.
// Devuelve false para tipos de evento que no interesan.
func Translate(e ari.Event) (routing.SessionEvent, bool) {
	switch v := e.(type) {
	case *ari.StasisStart:
		return routing.SessionEvent{
			Kind:              routing.SessionStart,
			Channel:           channelFrom(v.Channel),
			Args:              v.Args,
			ReplacedChannelID: v.ReplaceChannel.ID,
		}, true
	case *ari.StasisEnd:
		return routing.SessionEvent{
			Kind:    routing.SessionEnd,
			Channel: channelFrom(v.Channel),
		}, true
	default:
		return routing.SessionEvent{}, false
	}
}

func channelFrom(d ari.ChannelData) routing.Channel {
	ch := routing.Channel{
		ID:    d.ID,
		Name:  d.Name,
		State: d.State,
	}
	if d.Dialplan != nil {
		ch.Exten = d.Dialplan.Exten
	}
	return ch
}
