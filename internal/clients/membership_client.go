// internal/clients/membership_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

// Member is the membership service's view of a patron.
type Member struct {
	PID    string `json:"pid"`
	Status string `json:"status"`
}

// MembershipClient talks to the membership service.
type MembershipClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewMembershipClient(baseURL string) *MembershipClient {
	return &MembershipClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "membership",
			MaxRequests: 3,
			Timeout:     30 * time.Second,
		}),
	}
}

// BaseURL returns the membership service base URL, used by the ref
// builders.
func (c *MembershipClient) BaseURL() string { return c.baseURL }

// GetMember fetches a member; found is false when the pid is unknown.
func (c *MembershipClient) GetMember(ctx context.Context, pid string) (*Member, bool, error) {
	path := fmt.Sprintf("%s/api/v1/members/%s", c.baseURL, url.PathEscape(pid))
	member := &Member{}
	found, err := getJSON(ctx, c.http, c.breaker, path, member)
	if err != nil || !found {
		return nil, found, err
	}
	return member, true, nil
}

// MemberActive reports whether the member exists and may borrow.
func (c *MembershipClient) MemberActive(ctx context.Context, pid string) (bool, error) {
	member, found, err := c.GetMember(ctx, pid)
	if err != nil || !found {
		return false, err
	}
	return member.Status == "active", nil
}
