package asterisk

import (
	"github.com/CyCoreSystems/ari/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agentbridge/internal/routing"
)

// Orchestrator ejecuta los comandos de puentes y canales sobre ARI
type Orchestrator struct {
	ari ari.Client
	app string
	log logrus.FieldLogger
}

// NewOrchestrator crea un ejecutor de comandos para la aplicación app
func NewOrchestrator(cl ari.Client, app string, log logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{ari: cl, app: app, log: log}
}

func bridgeKey(id string) *ari.Key  { return ari.NewKey(ari.BridgeKey, id) }
func channelKey(id string) *ari.Key { return ari.NewKey(ari.ChannelKey, id) }

// CreateBridge crea un puente con id propio y lo devuelve
func (o *Orchestrator) CreateBridge(bridgeType string) (string, error) {
	id := uuid.NewString()
	h, err := o.ari.Bridge().Create(bridgeKey(id), bridgeType, id)
	if err != nil {
		return "", routing.NewCommandError(routing.OpCreateBridge, id, err)
	}
	o.log.WithFields(logrus.Fields{"bridge": h.ID(), "type": bridgeType}).Debug("Puente creado")
	return h.ID(), nil
}

func (o *Orchestrator) AddChannel(bridgeID, channelID string) error {
	err := o.ari.Bridge().AddChannel(bridgeKey(bridgeID), channelID)
	return routing.NewCommandError(routing.OpAddChannel, bridgeID+"/"+channelID, err)
}

func (o *Orchestrator) RemoveChannel(bridgeID, channelID string) error {
	err := o.ari.Bridge().RemoveChannel(bridgeKey(bridgeID), channelID)
	return routing.NewCommandError(routing.OpRemoveChannel, bridgeID+"/"+channelID, err)
}

func (o *Orchestrator) DestroyBridge(bridgeID string) error {
	err := o.ari.Bridge().Delete(bridgeKey(bridgeID))
	return routing.NewCommandError(routing.OpDestroyBridge, bridgeID, err)
}

// Originate llama a endpoint y lo entrega a la aplicación con appArgs.
// El id del canal se fija antes de originar para que el StasisStart del
// agente pueda emparejarse con su puente pendiente.
func (o *Orchestrator) Originate(endpoint, appArgs string) (string, error) {
	id := uuid.NewString()
	h, err := o.ari.Channel().Originate(nil, ari.OriginateRequest{
		Endpoint:  endpoint,
		App:       o.app,
		AppArgs:   appArgs,
		ChannelID: id,
	})
	if err != nil {
		return "", routing.NewCommandError(routing.OpOriginate, endpoint, err)
	}
	return h.ID(), nil
}

func (o *Orchestrator) Answer(channelID string) error {
	err := o.ari.Channel().Answer(channelKey(channelID))
	return routing.NewCommandError(routing.OpAnswer, channelID, err)
}

func (o *Orchestrator) Hangup(channelID string) error {
	err := o.ari.Channel().Hangup(channelKey(channelID), "normal")
	return routing.NewCommandError(routing.OpHangup, channelID, err)
}

// StartMOH pone música en espera con la clase por defecto del servidor
func (o *Orchestrator) StartMOH(channelID string) error {
	err := o.ari.Channel().MOH(channelKey(channelID), "")
	return routing.NewCommandError(routing.OpStartMOH, channelID, err)
}

func (o *Orchestrator) StopMOH(channelID string) error {
	err := o.ari.Channel().StopMOH(channelKey(channelID))
	return routing.NewCommandError(routing.OpStopMOH, channelID, err)
}

// GetBridge consulta el estado de un puente en Asterisk
func (o *Orchestrator) GetBridge(bridgeID string) (routing.BridgeInfo, error) {
	d, err := o.ari.Bridge().Data(bridgeKey(bridgeID))
	if err != nil {
		return routing.BridgeInfo{}, routing.NewCommandError(routing.OpGetBridge, bridgeID, err)
	}
	return routing.BridgeInfo{
		ID:       d.ID,
		Type:     d.Type,
		Channels: d.ChannelIDs,
	}, nil
}

var _ routing.Orchestrator = (*Orchestrator)(nil)
