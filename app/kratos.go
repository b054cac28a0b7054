package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	ory "github.com/ory/client-go"
	"go.uber.org/zap"

	"email-login/delivery/model"
)

const (
	codeMethod     = "code"
	uiMessageError = "error"
)

// KratosSender starts an Ory Kratos one-time-code login for the address.
// Kratos itself delivers the email.
type KratosSender struct {
	client *ory.APIClient
	logger *zap.Logger
}

func NewKratosSender(publicURL string, httpClient *http.Client, logger *zap.Logger) *KratosSender {
	return &KratosSender{
		client: configureOryClient(publicURL, httpClient),
		logger: logger,
	}
}

// configureOryClient is a helper to set up the connection to Ory Kratos.
func configureOryClient(publicURL string, httpClient *http.Client) *ory.APIClient {
	conf := ory.NewConfiguration()
	conf.Servers = ory.ServerConfigurations{
		{
			URL: publicURL,
		},
	}
	if httpClient != nil {
		conf.HTTPClient = httpClient
	}
	return ory.NewAPIClient(conf)
}

func (s *KratosSender) SendLoginEmail(ctx context.Context, email string) (string, error) {
	flow, _, err := s.client.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return "", fmt.Errorf("failed to create login flow: %w", err)
	}

	updateBody := ory.UpdateLoginFlowWithCodeMethod{
		Method:     codeMethod,
		Identifier: &email,
	}
	loginFlowBody := ory.UpdateLoginFlowWithCodeMethodAsUpdateLoginFlowBody(&updateBody)

	_, resp, err := s.client.FrontendAPI.UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(loginFlowBody).
		Execute()
	if err == nil {
		// A code flow normally answers with the flow; a finished login is
		// still a successful send from the user's point of view.
		return model.MessageLoginSent, nil
	}

	// Kratos answers the first code step with 400 and the updated flow.
	var genericError *ory.GenericOpenAPIError
	if errors.As(err, &genericError) {
		if updated, ok := loginFlowFromModel(genericError.Model()); ok {
			return s.resultFromFlow(updated)
		}
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return "", fmt.Errorf("failed to update login flow (status %d): %w", status, err)
}

func loginFlowFromModel(m interface{}) (*ory.LoginFlow, bool) {
	switch flow := m.(type) {
	case ory.LoginFlow:
		return &flow, true
	case *ory.LoginFlow:
		return flow, flow != nil
	default:
		return nil, false
	}
}

// resultFromFlow turns the flow's UI messages into a user-facing outcome.
func (s *KratosSender) resultFromFlow(flow *ory.LoginFlow) (string, error) {
	var info string
	for _, msg := range flowMessages(flow) {
		if string(msg.Type) == uiMessageError {
			s.logger.Info("kratos rejected login", zap.Int64("message_id", msg.Id), zap.String("flow", flow.Id))
			return "", &model.RejectedError{Message: msg.Text}
		}
		if info == "" {
			info = msg.Text
		}
	}
	if info == "" {
		info = model.MessageLoginSent
	}
	return info, nil
}

func flowMessages(flow *ory.LoginFlow) []ory.UiText {
	messages := append([]ory.UiText(nil), flow.Ui.Messages...)
	for _, node := range flow.Ui.Nodes {
		messages = append(messages, node.Messages...)
	}
	return messages
}
