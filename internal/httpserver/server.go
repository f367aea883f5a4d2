package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/ogichanchan/ninja-backup-mate/internal/backup"
	"github.com/ogichanchan/ninja-backup-mate/internal/host"
	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
)

const (
	pagePath    = "/admin/ninja-backup-mate"
	backupPath  = "/admin/ninja-backup-mate/backup"
	healthPath  = "/healthz"
	metricsPath = "/metrics"

	// NonceField is the form field carrying the backup nonce
	NonceField = "ninja_backup_mate_nonce"

	permissionDeniedMessage = "You do not have sufficient permissions to perform this action."
	nonceFailedMessage      = "Security check failed. Please try again."

	claimsKey = "ninja_backup_mate_claims"
)

// Runner performs one backup and delivers the result
type Runner interface {
	Run(ctx context.Context, deliver backup.DeliverFunc) (*backup.FinalArchive, error)
}

// Options configures a Server
type Options struct {
	Addr     string
	Runner   Runner
	Host     host.Provider
	Fs       afero.Fs
	Logger   *logging.Logger
	Registry *prometheus.Registry
}

// Server serves the admin page and streams backups to authorized users.
type Server struct {
	addr      string
	runner    Runner
	host      host.Provider
	fs        afero.Fs
	logger    *logging.Logger
	registry  *prometheus.Registry
	router    *gin.Engine
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP server. The router is built immediately so
// Handler can be used without Start.
func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8080"
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      opts.Addr,
		runner:    opts.Runner,
		host:      opts.Host,
		fs:        opts.Fs,
		logger:    opts.Logger,
		registry:  opts.Registry,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	s.router = s.routes(newHTTPMetrics(opts.Registry))
	return s
}

func (s *Server) routes(metrics *httpMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.RecoveryWithWriter(s.logger.Logrus().WriterLevel(logrus.ErrorLevel)), requestLogger(s.logger), metrics.middleware())

	r.GET(healthPath, s.handleHealth)
	r.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	admin := r.Group(pagePath, s.requireCapability(host.CapabilityManageOptions))
	admin.GET("", s.handlePage)
	admin.POST("/backup", s.verifyNonce, s.handleBackup)

	return r
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.router,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()
	s.logger.Infof("HTTP server listening on %s", listener.Addr())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("HTTP server stopped: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	s.logger.Debugf("HTTP server shutting down after %s", time.Since(s.startTime).Round(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) requireCapability(capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.host.Authenticate(c.Request)
		if err != nil || !claims.Can(capability) {
			c.String(http.StatusForbidden, permissionDeniedMessage)
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func (s *Server) verifyNonce(c *gin.Context) {
	claims := currentUser(c)
	if !s.host.ConsumeNonce(claims.Username, c.PostForm(NonceField)) {
		s.logger.WithContext(c.Request.Context()).WithField("user", claims.Username).Warn("Backup request rejected: nonce check failed")
		c.String(http.StatusForbidden, nonceFailedMessage)
		c.Abort()
		return
	}
	c.Next()
}

func currentUser(c *gin.Context) *host.Claims {
	return c.MustGet(claimsKey).(*host.Claims)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handlePage(c *gin.Context) {
	claims := currentUser(c)
	data := pageData{
		Notices:   s.host.DrainNotices(claims.Username),
		Action:    backupPath,
		NonceName: NonceField,
		Nonce:     s.host.IssueNonce(claims.Username),
	}

	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := adminPage.Execute(c.Writer, data); err != nil {
		s.logger.WithContext(c.Request.Context()).WithField("error", err.Error()).Error("Failed to render admin page")
	}
}

func (s *Server) handleBackup(c *gin.Context) {
	ctx := c.Request.Context()
	claims := currentUser(c)

	s.logger.WithContext(ctx).WithField("user", claims.Username).Info("Backup requested")

	_, err := s.runner.Run(ctx, func(ctx context.Context, final *backup.FinalArchive) error {
		for _, w := range final.Warnings {
			s.host.AddNotice(claims.Username, host.Notice{Message: w.UserMessage, Severity: host.SeverityWarning})
		}
		return s.stream(c, final)
	})
	if err == nil {
		return
	}

	if c.Writer.Written() {
		// Headers are gone; the client sees a truncated download.
		s.logger.Warn("Backup failed after the download started")
		return
	}
	s.host.AddNotice(claims.Username, host.Notice{Message: backup.UserMessage(err), Severity: host.SeverityError})
	c.Redirect(http.StatusSeeOther, pagePath)
}

// stream writes the archive as an attachment. The write deadline is lifted
// since large archives can outlast the server's WriteTimeout.
func (s *Server) stream(c *gin.Context, final *backup.FinalArchive) error {
	f, err := s.fs.Open(final.Path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	// Not every ResponseWriter supports deadlines; ignore that case.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	h := c.Writer.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", final.Filename))
	h.Set("Content-Length", strconv.FormatInt(final.Size, 10))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	c.Writer.WriteHeader(http.StatusOK)

	if _, err := io.Copy(c.Writer, f); err != nil {
		return fmt.Errorf("stream archive: %w", err)
	}
	c.Writer.Flush()
	return nil
}
