package synthesis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"go.uber.org/zap"
)

// TemplateData is the value templates execute against.
type TemplateData struct {
	TaskID   string
	Contexts map[string]model.SourceContext
	Ticket   *model.TicketContext
	Meetings *model.MeetingContext
	Docs     *model.DocsContext
	Chat     *model.CommunicationContext
	Email    *model.EmailContext
	VCS      *model.VCSContext
}

var templateFuncs = template.FuncMap{
	"join":  strings.Join,
	"date":  func(t interface{ Format(string) string }) string { return t.Format(dateLayout) },
	"clip":  clip,
	"title": func(s model.DocumentSection) string { return s.Title() },
}

// TemplatePlugin renders a user-supplied text/template file. No backend
// is involved, so output is deterministic.
type TemplatePlugin struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	tmpl *template.Template
}

func newTemplatePlugin(cfg config.SynthesisConfig, o options) *TemplatePlugin {
	return &TemplatePlugin{path: cfg.TemplatePath, logger: o.logger}
}

func (p *TemplatePlugin) Name() string { return "template" }

func (p *TemplatePlugin) template() (*template.Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tmpl != nil {
		return p.tmpl, nil
	}
	if p.path == "" {
		return nil, errors.New("template_path is required for the template plugin")
	}
	t, err := template.New(filepath.Base(p.path)).Funcs(templateFuncs).ParseFiles(p.path)
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", p.path, err)
	}
	p.tmpl = t
	return t, nil
}

// Synthesize renders the template. Load and execution errors are
// reported in the output.
func (p *TemplatePlugin) Synthesize(ctx context.Context, taskID string, contexts map[string]model.SourceContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s := ExtractSources(contexts)
	data := TemplateData{
		TaskID:   taskID,
		Contexts: contexts,
		Ticket:   s.Ticket,
		Meetings: s.Meetings,
		Docs:     s.Docs,
		Chat:     s.Chat,
		Email:    s.Email,
		VCS:      s.VCS,
	}

	t, err := p.template()
	if err == nil {
		var buf bytes.Buffer
		if err = t.Execute(&buf, data); err == nil {
			return buf.String(), nil
		}
	}
	p.logger.Warn("template synthesis failed", zap.String("task_id", taskID), zap.Error(err))
	return fmt.Sprintf("## Task: %s\n\nTemplate synthesis error: %v", taskID, err), nil
}

func (p *TemplatePlugin) Close() error { return nil }
