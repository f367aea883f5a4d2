package host

import (
	"net/http"
	"time"
)

// Provider is everything the HTTP front end needs from its host
type Provider interface {
	Authenticate(r *http.Request) (*Claims, error)
	IssueNonce(user string) string
	ConsumeNonce(user, nonce string) bool
	AddNotice(user string, notice Notice)
	DrainNotices(user string) []Notice
}

// Options configures a Host
type Options struct {
	Secret    string
	TokenTTL  time.Duration
	NonceTTL  time.Duration
	NoticeTTL time.Duration
	// MaxEntries bounds each of the nonce and notice stores
	MaxEntries int
}

// Host is the in-process Provider backed by JWT sessions and LRU stores
type Host struct {
	*Authorizer
	nonces  *NonceStore
	notices *NoticeStore
}

// New creates a Host. NonceTTL defaults to 12 hours and NoticeTTL to 30 seconds.
func New(opts Options) (*Host, error) {
	auth, err := NewAuthorizer(opts.Secret, opts.TokenTTL)
	if err != nil {
		return nil, err
	}
	if opts.NonceTTL <= 0 {
		opts.NonceTTL = 12 * time.Hour
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = 30 * time.Second
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1024
	}

	return &Host{
		Authorizer: auth,
		nonces:     NewNonceStore(opts.MaxEntries, opts.NonceTTL),
		notices:    NewNoticeStore(opts.MaxEntries, opts.NoticeTTL),
	}, nil
}

func (h *Host) IssueNonce(user string) string {
	return h.nonces.Issue(user)
}

func (h *Host) ConsumeNonce(user, nonce string) bool {
	return h.nonces.Consume(user, nonce)
}

func (h *Host) AddNotice(user string, notice Notice) {
	h.notices.Add(user, notice)
}

func (h *Host) DrainNotices(user string) []Notice {
	return h.notices.Drain(user)
}
