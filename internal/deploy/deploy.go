// Package deploy runs a whole deployment: archive in, live site URL out.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/mcdonaldj/sitedrop/internal/deployerr"
	"github.com/mcdonaldj/sitedrop/internal/history"
	"github.com/mcdonaldj/sitedrop/internal/logging"
	"github.com/mcdonaldj/sitedrop/internal/manifest"
	"github.com/mcdonaldj/sitedrop/internal/metrics"
	"github.com/mcdonaldj/sitedrop/internal/ports"
	"github.com/mcdonaldj/sitedrop/internal/session"
	"github.com/mcdonaldj/sitedrop/internal/sitetree"
	"github.com/mcdonaldj/sitedrop/internal/upload"
	"github.com/mcdonaldj/sitedrop/internal/workspace"
)

// SuccessMessage is returned with every successful deployment.
const SuccessMessage = "Deployment successful. Site is processing and will be live shortly."

// Request is one deployment request.
type Request struct {
	Archive []byte
	APIKey  string
	// KeySupplied reports whether the caller sent a key at all, even a
	// blank one.
	KeySupplied bool
}

// Result describes a successful deployment.
type Result struct {
	URL      string        `json:"url"`
	SiteID   string        `json:"site_id"`
	SiteName string        `json:"site_name"`
	DeployID string        `json:"deploy_id"`
	Message  string        `json:"message"`
	Files    int           `json:"files"`
	Required int           `json:"required"`
	Uploaded int           `json:"uploaded"`
	Duration time.Duration `json:"-"`
}

// Deps are the collaborators of a Service. Nil optional fields get
// working defaults.
type Deps struct {
	Archiver  ports.Archiver
	FS        ports.FileSystem
	Arena     *workspace.Arena
	Sessions  *session.Manager
	Scheduler *upload.Scheduler

	// Optional
	// Configured reports whether the remote API has credentials; nil
	// means it always does.
	Configured    func() bool
	History       history.Store
	Metrics       metrics.Metrics
	Logger        *slog.Logger
	Auth          KeyChecker
	Limits        ports.Limits
	Policy        sitetree.Policy
	DigestWorkers int
}

// Service orchestrates deployments. It is safe for concurrent use; each
// call owns its workspace and session.
type Service struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service.
func New(deps Deps) *Service {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.DigestWorkers < 1 {
		deps.DigestWorkers = runtime.GOMAXPROCS(0)
	}
	return &Service{
		deps:   deps,
		logger: logging.Component(deps.Logger, "deploy"),
		now:    time.Now,
	}
}

// Prepared is an extracted, indexed site ready to send.
type Prepared struct {
	Workspace *workspace.Workspace
	Tree      sitetree.Tree
	Manifest  *manifest.FileManifest
}

// Prepare validates and extracts the archive and builds its manifest
// without touching the remote. The caller must Release the workspace.
func (s *Service) Prepare(ctx context.Context, archive []byte) (*Prepared, error) {
	a, err := s.deps.Archiver.Validate(archive, s.deps.Limits)
	if err != nil {
		return nil, deployerr.Classify(err, deployerr.InvalidArchive)
	}

	ws, err := s.deps.Arena.Acquire()
	if err != nil {
		return nil, deployerr.Wrap(deployerr.ExtractionFailed, err, "creating workspace")
	}
	s.logger.Debug("workspace acquired", "workspace", ws.ID, "active", s.deps.Arena.Active())
	p := &Prepared{Workspace: ws}

	if err := s.deps.Archiver.Extract(a, ws.SiteDir); err != nil {
		_ = ws.Release()
		return nil, deployerr.Classify(err, deployerr.ExtractionFailed)
	}

	tree, err := sitetree.Prepare(s.deps.FS, ws.SiteDir, s.deps.Policy)
	if err != nil {
		_ = ws.Release()
		return nil, deployerr.Classify(err, deployerr.ExtractionFailed)
	}
	p.Tree = tree
	switch {
	case tree.RootDocument == "":
		s.logger.Warn("archive has no HTML file; deploying without a root document", "workspace", ws.ID)
	case tree.Created:
		s.logger.Info("created root document", "workspace", ws.ID, "source", tree.Source)
	}

	fm, err := manifest.Build(ctx, s.deps.FS, ws.SiteDir, s.deps.DigestWorkers)
	if err != nil {
		_ = ws.Release()
		return nil, localFailure(err, deployerr.UnreadableFile)
	}
	p.Manifest = fm
	return p, nil
}

// localFailure classifies an error raised before any site exists.
// Cancellation at this point has no remote side.
func localFailure(err error, fallback deployerr.Code) *deployerr.Error {
	e := deployerr.Classify(err, fallback)
	if deployerr.Is(e, deployerr.Canceled) {
		return deployerr.Wrap(deployerr.ExtractionFailed, err, "deployment canceled before any remote call")
	}
	return e
}

// Deploy publishes the archive as a brand new site. The workspace is
// removed on every path; a failed deployment never deletes the remote site.
func (s *Service) Deploy(ctx context.Context, req Request) (*Result, error) {
	started := s.now()

	if err := s.deps.Auth.Check(req.APIKey, req.KeySupplied); err != nil {
		s.observe("rejected", started)
		return nil, err
	}
	if s.deps.Configured != nil && !s.deps.Configured() {
		s.observe("rejected", started)
		s.logger.Error("remote API token not configured")
		return nil, deployerr.New(deployerr.NotConfigured, "server is not configured for deployments")
	}

	p, err := s.Prepare(ctx, req.Archive)
	if err != nil {
		s.observe("rejected", started)
		s.logger.Info("archive rejected", "code", deployerr.CodeOf(err), "error", err)
		return nil, err
	}
	defer func() {
		if err := p.Workspace.Release(); err != nil {
			s.logger.Warn("workspace cleanup failed", "workspace", p.Workspace.ID, "error", err)
		}
	}()

	sess, report, err := s.publish(ctx, p)
	s.record(sess, p.Manifest, report, started, err)
	if err != nil {
		status := string(session.StatusFailed)
		if deployerr.Is(err, deployerr.Canceled) {
			status = "canceled"
		}
		s.observe(status, started)
		return nil, err
	}
	s.observe(string(session.StatusReady), started)

	res := &Result{
		URL:      sess.URL(),
		SiteID:   sess.SiteID(),
		SiteName: sess.SiteName(),
		DeployID: sess.DeployID(),
		Message:  SuccessMessage,
		Files:    sess.Files(),
		Required: report.Tasks,
		Uploaded: report.Uploaded,
		Duration: s.now().Sub(started),
	}
	s.logger.Info("deployment ready",
		"site_id", res.SiteID,
		"deploy_id", res.DeployID,
		"url", res.URL,
		"files", res.Files,
		"uploaded", res.Uploaded,
		"duration", res.Duration,
	)
	return res, nil
}

// publish runs the remote half of a deployment. The returned session is
// nil when the site could not be created.
func (s *Service) publish(ctx context.Context, p *Prepared) (*session.Session, upload.Report, error) {
	var report upload.Report
	mgr := s.deps.Sessions

	sess, err := mgr.Start(ctx)
	if err != nil {
		return nil, report, deployerr.Classify(err, deployerr.SiteCreationFailed)
	}
	log := s.logger.With("site_id", sess.SiteID(), "site_name", sess.SiteName())
	log.Info("site created")

	fail := func(err error, fallback deployerr.Code) (*session.Session, upload.Report, error) {
		classified := deployerr.Classify(err, fallback)
		if ferr := mgr.Fail(sess, classified); ferr != nil {
			log.Error("could not mark session failed", "error", ferr)
		}
		log.Error("deployment failed", "code", classified.Code, "error", classified)
		return sess, report, classified
	}

	if err := mgr.SubmitManifest(ctx, sess, p.Manifest); err != nil {
		return fail(err, deployerr.ManifestRejected)
	}
	reused := p.Manifest.Len() - len(sess.Required())
	s.deps.Metrics.AddFilesReused(reused)
	log.Info("manifest accepted", "deploy_id", sess.DeployID(), "files", p.Manifest.Len(), "required", len(sess.Required()))

	if err := mgr.BeginUpload(sess); err != nil {
		return fail(err, deployerr.ManifestRejected)
	}
	report, err = s.deps.Scheduler.Run(ctx, sess, p.Manifest, p.Workspace.SiteDir)
	if err != nil {
		return fail(err, deployerr.UploadFailed)
	}

	if err := mgr.Finalize(ctx, sess); err != nil {
		return fail(err, deployerr.FinalizationFailed)
	}
	return sess, report, nil
}

func (s *Service) observe(status string, started time.Time) {
	s.deps.Metrics.IncDeploys(status)
	s.deps.Metrics.ObserveDeployDuration(status, s.now().Sub(started).Seconds())
}

// record stores the outcome once a remote site exists.
func (s *Service) record(sess *session.Session, fm *manifest.FileManifest, report upload.Report, started time.Time, err error) {
	if s.deps.History == nil || sess == nil {
		return
	}
	rec := history.Record{
		ID:          sess.DeployID(),
		SiteID:      sess.SiteID(),
		SiteName:    sess.SiteName(),
		DeployID:    sess.DeployID(),
		URL:         sess.URL(),
		Status:      sess.Status(),
		Files:       fm.Len(),
		Required:    report.Tasks,
		Uploaded:    report.Uploaded,
		Bytes:       report.Bytes,
		Transitions: sess.History(),
		StartedAt:   started,
		FinishedAt:  s.now(),
	}
	if rec.ID == "" {
		rec.ID = sess.SiteID()
	}
	// The session keeps the failure it was ended with; err also covers
	// sessions that could not be marked failed.
	failure := sess.Err()
	if failure == nil {
		failure = err
	}
	if failure != nil {
		rec.ErrorCode = string(deployerr.CodeOf(failure))
		rec.Error = failure.Error()
	}

	// The request context may already be done; history is best effort.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.History.Save(ctx, rec); err != nil {
		s.logger.Warn("could not record deployment", "id", rec.ID, "error", err)
	}
}

// Lookup returns the history record for a deploy ID. Deployments that failed
// before the remote opened a deploy are recorded under their site ID.
func (s *Service) Lookup(ctx context.Context, id string) (history.Record, error) {
	if s.deps.History == nil {
		return history.Record{}, fmt.Errorf("%w: history disabled", history.ErrNotFound)
	}
	return s.deps.History.Get(ctx, id)
}

// Recent returns up to limit history records, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if s.deps.History == nil {
		return nil, nil
	}
	return s.deps.History.Recent(ctx, limit)
}
