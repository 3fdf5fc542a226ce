package connectors

import (
	"context"
	"net/http"
	"time"
)

// ThirdPartyClient читает произвольный текст у стороннего API.
type ThirdPartyClient struct {
	caller
	url    string
	maxLen int
}

func NewThirdPartyClient(url string, timeout time.Duration, maxLen int, client *http.Client, breaker Breaker) *ThirdPartyClient {
	return &ThirdPartyClient{
		caller: newCaller(TargetThirdParty, client, timeout, breaker),
		url:    url,
		maxLen: maxLen,
	}
}

// Fetch выполняет GET и отдает текст, обрезанный до maxLen символов.
func (c *ThirdPartyClient) Fetch(ctx context.Context) Outcome {
	body, err := c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	})
	if err != nil {
		return FromError(c.target, err)
	}
	return Success(c.target, truncate(string(body), c.maxLen))
}

// truncate режет по символам, а не по байтам.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
