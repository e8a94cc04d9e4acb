package whatsapp

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/config"
	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	client "github.com/mamadbah2/poultrydesk/pkg/clients/whatsapp"
)

const sendTimeout = 10 * time.Second

// ErrDisabled is returned when no WhatsApp credentials are configured.
var ErrDisabled = errors.New("whatsapp notifications are disabled")

// Notifier describes the operations the HTTP layer and the scheduler perform.
type Notifier interface {
	NotifyManager(ctx context.Context, body string) error
	SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error
}

// MetaWhatsAppService is the production implementation backed by WhatsApp Cloud API.
type MetaWhatsAppService struct {
	cfg    config.WhatsAppConfig
	client client.Client
	logger *zap.Logger
}

// NewMetaWhatsAppService wires a new service instance. A nil client disables
// sending.
func NewMetaWhatsAppService(cfg config.WhatsAppConfig, client client.Client, logger *zap.Logger) *MetaWhatsAppService {
	svc := &MetaWhatsAppService{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// NotifyManager sends body to the configured farm manager.
func (s *MetaWhatsAppService) NotifyManager(ctx context.Context, body string) error {
	return s.send(ctx, s.cfg.ManagerID, body, false)
}

// SendOutbound lets internal operators push quick notifications via HTTP.
func (s *MetaWhatsAppService) SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error {
	return s.send(ctx, req.To, req.Message, req.PreviewURL)
}

func (s *MetaWhatsAppService) send(ctx context.Context, to, body string, preview bool) error {
	if s.client == nil {
		return ErrDisabled
	}
	if to == "" {
		return errors.New("recipient is required")
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, err := s.client.SendTextMessage(ctxWithTimeout, client.SendTextMessageRequest{
		To:         to,
		Body:       body,
		PreviewURL: preview,
	})
	if err != nil {
		return err
	}

	s.logger.Info("whatsapp message sent",
		zap.String("to", to),
		zap.String("message_id", resp.MessageID()))
	return nil
}
