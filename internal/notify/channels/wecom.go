package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
	trigerrors "github.com/Aixtrade/LLMTrigger/internal/errors"
)

// wecomResponse is the shared envelope WeCom group-bot webhooks return.
type wecomResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// WeComSender posts to a WeCom group-bot webhook, identifying the bot by
// target.WebhookKey passed as the key query parameter on a shared base URL.
type WeComSender struct {
	client  *resty.Client
	baseURL string
}

// NewWeComSender returns a sender that POSTs to
// baseURL/cgi-bin/webhook/send?key=<webhook key> for each target.
func NewWeComSender(baseURL string) *WeComSender {
	return &WeComSender{
		client:  resty.New().SetTimeout(10 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *WeComSender) Kind() domain.TargetKind { return domain.TargetWeCom }

func (s *WeComSender) Send(ctx context.Context, target domain.Target, message string) error {
	if strings.TrimSpace(target.WebhookKey) == "" {
		return trigerrors.Permanent("wecom", fmt.Errorf("missing webhook_key"))
	}
	url := fmt.Sprintf("%s/cgi-bin/webhook/send?key=%s", s.baseURL, target.WebhookKey)

	var result wecomResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": message},
		}).
		SetResult(&result).
		Post(url)
	if err != nil {
		return trigerrors.Transient("wecom", err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= 500 {
			return trigerrors.Transient("wecom", fmt.Errorf("http %d", resp.StatusCode()))
		}
		return trigerrors.Permanent("wecom", fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String()))
	}
	if result.ErrCode != 0 {
		// WeCom's own error codes mix rate limiting (45009) with auth
		// and malformed-request failures; only the former is worth a
		// retry.
		if result.ErrCode == 45009 {
			return trigerrors.Transient("wecom", fmt.Errorf("errcode %d: %s", result.ErrCode, result.ErrMsg))
		}
		return trigerrors.Permanent("wecom", fmt.Errorf("errcode %d: %s", result.ErrCode, result.ErrMsg))
	}
	return nil
}
