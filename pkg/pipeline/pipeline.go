// Package pipeline orchestrates one report task end to end: download,
// decode, classify, extract, validate, persist, verdict. The task status is
// the claim key, and the one-per-task analysis row is the resume marker:
// redelivered jobs either observe a lost compare-and-set and return without
// side effects, or pick up from the stored extraction without another
// provider call.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/voltaudit/voltaudit/pkg/audit"
	"github.com/voltaudit/voltaudit/pkg/broker"
	"github.com/voltaudit/voltaudit/pkg/classify"
	"github.com/voltaudit/voltaudit/pkg/document"
	"github.com/voltaudit/voltaudit/pkg/extraction"
	"github.com/voltaudit/voltaudit/pkg/metrics"
	"github.com/voltaudit/voltaudit/pkg/models"
	"github.com/voltaudit/voltaudit/pkg/objectstore"
	"github.com/voltaudit/voltaudit/pkg/storage"
	"github.com/voltaudit/voltaudit/pkg/validation"
	"github.com/voltaudit/voltaudit/pkg/verdict"
)

// JobProcessReport is the broker queue name for report processing.
const JobProcessReport = "process_report"

// ProcessArgs are the job arguments for one report task.
type ProcessArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

// CertificateKey returns the object key of a task's optional calibration
// certificate photo.
func CertificateKey(taskID uuid.UUID) string { return taskID.String() + "/certificate" }

// HygrometerKey returns the object key of a task's optional thermo-hygrometer
// photo.
func HygrometerKey(taskID uuid.UUID) string { return taskID.String() + "/hygrometer" }

// Pipeline drives tasks from QUEUED to a terminal status.
type Pipeline struct {
	store      *storage.Store
	gateway    objectstore.Gateway
	extractors *extraction.Extractors
	engine     *validation.Engine
	audit      *audit.Logger
	logger     logr.Logger

	// profile is the standard profile applied to every analysis.
	profile string
}

// New wires the pipeline.
func New(store *storage.Store, gateway objectstore.Gateway, extractors *extraction.Extractors,
	engine *validation.Engine, auditLogger *audit.Logger, profile string, logger logr.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		gateway:    gateway,
		extractors: extractors,
		engine:     engine,
		audit:      auditLogger,
		logger:     logger.WithName("pipeline"),
		profile:    profile,
	}
}

// Handle is the broker handler. A returned error schedules a redelivery, so
// it is reserved for failures a retry can fix; deterministic failures mark
// the task FAILED and return nil.
func (p *Pipeline) Handle(ctx context.Context, job broker.Job) error {
	var args ProcessArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		p.logger.Error(err, "discarding job with undecodable args", "job_id", job.ID)
		return nil
	}

	err := p.process(ctx, args.TaskID)
	if err == nil {
		return nil
	}

	if isPermanent(err) {
		p.fail(ctx, args.TaskID, err.Error())
		return nil
	}

	// Retryable: release the claim so the redelivery can take it again.
	if _, reErr := p.store.Tasks.Transition(ctx, args.TaskID, models.TaskProcessing, models.TaskQueued); reErr != nil {
		p.logger.Error(reErr, "failed to release task claim", "task_id", args.TaskID)
	}
	return err
}

// Terminal is the broker abandonment callback: the job ran out of attempts
// or aged out, so the task fails for good.
func (p *Pipeline) Terminal(ctx context.Context, job broker.Job, lastErr error) {
	var args ProcessArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		p.logger.Error(err, "cannot fail task for undecodable job", "job_id", job.ID)
		return
	}
	p.fail(ctx, args.TaskID, fmt.Sprintf("processing abandoned: %v", lastErr))
}

func (p *Pipeline) fail(ctx context.Context, taskID uuid.UUID, reason string) {
	if err := p.store.Tasks.MarkFailed(ctx, taskID, reason); err != nil {
		p.logger.Error(err, "failed to mark task failed", "task_id", taskID)
		return
	}
	metrics.TasksProcessed.WithLabelValues(string(models.TaskFailed)).Inc()
	p.logger.Info("task failed", "task_id", taskID, "reason", reason)
}

// isPermanent reports whether retrying cannot change the outcome.
func isPermanent(err error) bool {
	switch models.KindOf(err) {
	case models.KindInvalidInput, models.KindUnprocessable, models.KindNotFound:
		return true
	default:
		return false
	}
}

func (p *Pipeline) process(ctx context.Context, taskID uuid.UUID) error {
	task, err := p.store.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		p.logger.V(1).Info("skipping terminal task", "task_id", taskID, "status", task.Status)
		return nil
	}

	claimed, err := p.store.Tasks.Transition(ctx, taskID, models.TaskQueued, models.TaskProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker holds the claim.
		p.logger.V(1).Info("lost task claim", "task_id", taskID)
		return nil
	}
	startedAt := time.Now().UTC()

	// A prior attempt may have committed the analysis row before a transient
	// failure released the claim. The row is unique per task; resume from the
	// stored extraction instead of calling the provider again.
	if existing, err := p.store.Analyses.GetByTaskID(ctx, taskID); err == nil {
		return p.resume(ctx, task, existing)
	} else if models.KindOf(err) != models.KindNotFound {
		return err
	}

	doc, err := p.fetchDocument(ctx, task)
	if err != nil {
		return err
	}

	testType := classify.Classify(doc.PlainText(), len(doc.Images))
	if testType == models.TestUnknown {
		return models.E(models.KindUnprocessable, "TASK_422",
			"ClassificationError: document matches no known commissioning test type")
	}
	p.logger.Info("task classified", "task_id", taskID, "test_type", testType)

	texts := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		texts = append(texts, t.Text)
	}
	images := make([]extraction.Image, 0, len(doc.Images))
	for _, img := range doc.Images {
		images = append(images, extraction.Image{MediaType: img.MediaType, Data: img.Data})
	}

	extractStart := time.Now()
	switch testType {
	case models.TestGrounding:
		result, err := p.extractors.Grounding(ctx, texts, images)
		if err != nil {
			return err
		}
		metrics.ExtractionDuration.WithLabelValues(string(testType)).Observe(time.Since(extractStart).Seconds())
		return p.finishGrounding(ctx, task, startedAt, result)

	case models.TestMegger:
		result, err := p.extractors.Megger(ctx, texts, images)
		if err != nil {
			return err
		}
		metrics.ExtractionDuration.WithLabelValues(string(testType)).Observe(time.Since(extractStart).Seconds())
		return p.finishMegger(ctx, task, startedAt, result)

	case models.TestThermography:
		result, err := p.extractors.Thermography(ctx, texts, images)
		if err != nil {
			return err
		}
		metrics.ExtractionDuration.WithLabelValues(string(testType)).Observe(time.Since(extractStart).Seconds())
		comp := p.complementaryEvidence(ctx, task)
		return p.finishThermography(ctx, task, startedAt, result, comp)
	}
	return models.E(models.KindUnprocessable, "TASK_422", "unsupported test type")
}

// fetchDocument streams the artifact into a scoped temporary file and decodes
// it. The file is removed on every exit path.
func (p *Pipeline) fetchDocument(ctx context.Context, task *models.Task) (*document.Document, error) {
	body, err := p.gateway.Get(ctx, task.ObjectKey)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp("", "voltaudit-*")
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to create scratch file", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	buf := make([]byte, objectstore.ChunkSize)
	if _, err := io.CopyBuffer(tmp, body, buf); err != nil {
		return nil, models.Wrap(models.KindExternal, "TASK_502", "failed to download artifact", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, models.Wrap(models.KindInternal, "TASK_500", "failed to flush scratch file", err)
	}

	return document.Decode(tmp.Name())
}

// complementaryEvidence collects the optional certificate and hygrometer OCR
// inputs for the complementary validator. Absence or OCR failure yields a
// partial input, never an error: the validator skips checks whose evidence
// is missing.
func (p *Pipeline) complementaryEvidence(ctx context.Context, task *models.Task) validation.ComplementaryInput {
	var comp validation.ComplementaryInput

	if img, ok := p.fetchImage(ctx, CertificateKey(task.ID)); ok {
		result, err := p.extractors.Certificate(ctx, img)
		if err != nil {
			p.logger.Error(err, "certificate OCR failed, continuing without it", "task_id", task.ID)
		} else {
			comp.Certificate = result.Payload
			comp.CertificateConfidence = result.Payload.SerialNumber.Confidence
		}
	}

	if img, ok := p.fetchImage(ctx, HygrometerKey(task.ID)); ok {
		result, err := p.extractors.Hygrometer(ctx, img)
		if err != nil {
			p.logger.Error(err, "hygrometer OCR failed, continuing without it", "task_id", task.ID)
		} else {
			comp.Hygrometer = result.Payload
		}
	}

	return comp
}

func (p *Pipeline) fetchImage(ctx context.Context, key string) (extraction.Image, bool) {
	body, err := p.gateway.Get(ctx, key)
	if err != nil {
		// Missing complementary objects are the common case.
		return extraction.Image{}, false
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, objectstore.MaxObjectSize))
	if err != nil || len(data) == 0 {
		return extraction.Image{}, false
	}
	contentType, err := document.Sniff(data)
	if err != nil || contentType == document.ContentPDF {
		return extraction.Image{}, false
	}
	return extraction.Image{MediaType: string(contentType), Data: data}, true
}

// extractionEnvelope is the persisted extraction_data payload.
type extractionEnvelope struct {
	Payload           any                 `json:"payload"`
	OverallConfidence float64             `json:"overall_confidence"`
	NeedsReview       bool                `json:"needs_review"`
	Metadata          extraction.Metadata `json:"metadata"`
}

func (p *Pipeline) finishGrounding(ctx context.Context, task *models.Task, startedAt time.Time, result *extraction.Result[*extraction.GroundingExtraction]) error {
	vr := p.engine.Grounding(p.profile, result.Payload)
	return p.persist(ctx, task, startedAt, models.TestGrounding,
		equipmentTypeOf(result.Payload.Equipment), result.Payload.Equipment.Tag.Value,
		result.Payload, result.OverallConfidence, result.NeedsReview, result.Metadata, vr)
}

func (p *Pipeline) finishMegger(ctx context.Context, task *models.Task, startedAt time.Time, result *extraction.Result[*extraction.MeggerExtraction]) error {
	vr := p.engine.Megger(p.profile, result.Payload)
	return p.persist(ctx, task, startedAt, models.TestMegger,
		equipmentTypeOf(result.Payload.Equipment), result.Payload.Equipment.Tag.Value,
		result.Payload, result.OverallConfidence, result.NeedsReview, result.Metadata, vr)
}

func (p *Pipeline) finishThermography(ctx context.Context, task *models.Task, startedAt time.Time, result *extraction.Result[*extraction.ThermographyExtraction], comp validation.ComplementaryInput) error {
	vr := p.engine.Thermography(p.profile, result.Payload, comp)
	return p.persist(ctx, task, startedAt, models.TestThermography,
		equipmentTypeOf(result.Payload.Equipment), result.Payload.Equipment.Tag.Value,
		result.Payload, result.OverallConfidence, result.NeedsReview, result.Metadata, vr)
}

func equipmentTypeOf(eq extraction.Equipment) models.EquipmentType {
	switch models.EquipmentType(eq.Type.Value) {
	case models.EquipmentPanel, models.EquipmentUPS, models.EquipmentATS,
		models.EquipmentGen, models.EquipmentXfmr:
		return models.EquipmentType(eq.Type.Value)
	default:
		return models.EquipmentOther
	}
}

// persist writes the analysis row and the extraction narrative, then hands
// off to finalize. The committed row doubles as the resume marker: once it
// exists, a redelivered job revalidates the stored extraction instead of
// calling the provider again.
func (p *Pipeline) persist(ctx context.Context, task *models.Task, startedAt time.Time,
	testType models.TestType, equipmentType models.EquipmentType, equipmentTag string,
	payload any, confidence float64, needsReview bool, meta extraction.Metadata,
	vr *validation.Result) error {

	extractionData, err := json.Marshal(extractionEnvelope{
		Payload:           payload,
		OverallConfidence: confidence,
		NeedsReview:       needsReview,
		Metadata:          meta,
	})
	if err != nil {
		return models.Wrap(models.KindInternal, "VALD_500", "failed to encode extraction payload", err)
	}

	now := time.Now().UTC()
	analysis := &models.Analysis{
		ID:             uuid.New(),
		TaskID:         task.ID,
		TestType:       testType,
		EquipmentType:  equipmentType,
		EquipmentTag:   equipmentTag,
		Confidence:     confidence,
		ExtractionData: extractionData,
		ValidationData: json.RawMessage(`{}`),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.store.InTx(ctx, func(tx *sqlx.Tx) error {
		return p.store.Analyses.Create(ctx, tx, analysis)
	}); err != nil {
		return err
	}

	// Retroactive narrative: the extraction started when the task was
	// claimed, before the analysis row existed.
	p.audit.Log(ctx, analysis.ID, models.AuditExtractionStarted, audit.Event{
		Timestamp: startedAt,
		Details:   map[string]any{"task_id": task.ID, "test_type": testType},
	})
	p.audit.Log(ctx, analysis.ID, models.AuditExtractionCompleted, audit.Event{
		ModelVersion:  meta.Model,
		PromptVersion: meta.PromptVersion,
		Confidence:    &confidence,
		Details: map[string]any{
			"input_tokens":  meta.InputTokens,
			"output_tokens": meta.OutputTokens,
			"needs_review":  needsReview,
		},
	})
	metrics.LLMTokens.WithLabelValues("input").Add(float64(meta.InputTokens))
	metrics.LLMTokens.WithLabelValues("output").Add(float64(meta.OutputTokens))

	return p.finalize(ctx, task, analysis, confidence, vr)
}

// resume finishes a task whose previous attempt committed the analysis row
// before failing. A verdict already on the row means the result landed too
// and only the completion transition is left; otherwise the stored extraction
// is revalidated without another provider call.
func (p *Pipeline) resume(ctx context.Context, task *models.Task, analysis *models.Analysis) error {
	p.logger.Info("resuming task with persisted analysis",
		"task_id", task.ID, "analysis_id", analysis.ID, "test_type", analysis.TestType)

	if analysis.Verdict != nil {
		return p.complete(ctx, task, analysis.ID)
	}

	var envelope struct {
		Payload           json.RawMessage `json:"payload"`
		OverallConfidence float64         `json:"overall_confidence"`
	}
	if err := json.Unmarshal(analysis.ExtractionData, &envelope); err != nil {
		return models.Wrap(models.KindUnprocessable, "TASK_422", "stored extraction payload is unreadable", err)
	}

	vr, err := p.revalidate(ctx, task, analysis.TestType, envelope.Payload)
	if err != nil {
		return err
	}
	return p.finalize(ctx, task, analysis, envelope.OverallConfidence, vr)
}

// revalidate re-runs the deterministic engine over a stored extraction
// payload. Validation is pure, so replaying it yields the same result the
// failed attempt computed.
func (p *Pipeline) revalidate(ctx context.Context, task *models.Task, testType models.TestType, raw json.RawMessage) (*validation.Result, error) {
	switch testType {
	case models.TestGrounding:
		var g extraction.GroundingExtraction
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, models.Wrap(models.KindUnprocessable, "TASK_422", "stored grounding extraction is unreadable", err)
		}
		g.ComputeDerived()
		return p.engine.Grounding(p.profile, &g), nil

	case models.TestMegger:
		var m extraction.MeggerExtraction
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, models.Wrap(models.KindUnprocessable, "TASK_422", "stored megger extraction is unreadable", err)
		}
		return p.engine.Megger(p.profile, &m), nil

	case models.TestThermography:
		var t extraction.ThermographyExtraction
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, models.Wrap(models.KindUnprocessable, "TASK_422", "stored thermography extraction is unreadable", err)
		}
		t.ComputeDerived()
		comp := p.complementaryEvidence(ctx, task)
		return p.engine.Thermography(p.profile, &t, comp), nil
	}
	return nil, models.E(models.KindUnprocessable, "TASK_422", "unsupported test type")
}

// finalize stores findings and the verdict, writes the validation narrative,
// and completes the task. Findings are replaced wholesale inside the
// transaction, and the narrative is written only after the result is durably
// committed, so a resumed task neither duplicates rows nor audit events.
func (p *Pipeline) finalize(ctx context.Context, task *models.Task, analysis *models.Analysis,
	confidence float64, vr *validation.Result) error {

	now := time.Now().UTC()
	rows := verdict.ToPersisted(analysis.ID, vr.Findings)
	for i, row := range rows {
		row.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
	}

	score := verdict.ComputeScore(vr.CriticalCount, vr.MajorCount, vr.MinorCount)
	outcome := verdict.ComputeVerdict(vr.CriticalCount, score, confidence)

	validationData, err := json.Marshal(vr)
	if err != nil {
		return models.Wrap(models.KindInternal, "VALD_500", "failed to encode validation payload", err)
	}

	if err := p.store.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := p.store.Findings.DeleteByAnalysis(ctx, tx, analysis.ID); err != nil {
			return err
		}
		findings := make([]models.Finding, len(rows))
		for i, row := range rows {
			findings[i] = *row
		}
		if err := p.store.Findings.CreateBatch(ctx, tx, findings); err != nil {
			return err
		}
		return p.store.Analyses.UpdateResult(ctx, tx, analysis.ID, float64(score), outcome, validationData)
	}); err != nil {
		return err
	}

	for _, ruleID := range vr.RulesApplied {
		p.audit.Log(ctx, analysis.ID, models.AuditValidationRuleApplied, audit.Event{
			RuleID:  ruleID,
			Details: map[string]any{"profile": vr.Profile},
		})
	}
	for _, row := range rows {
		p.audit.Log(ctx, analysis.ID, models.AuditFindingGenerated, audit.Event{
			RuleID: row.RuleID,
			Details: map[string]any{
				"severity": row.Severity,
				"message":  row.Message,
			},
		})
		metrics.FindingsGenerated.WithLabelValues(string(row.Severity)).Inc()
	}
	p.audit.Log(ctx, analysis.ID, models.AuditValidationCompleted, audit.Event{
		Details: map[string]any{
			"score":    score,
			"verdict":  outcome,
			"findings": len(rows),
			"is_valid": vr.IsValid,
		},
	})
	metrics.Verdicts.WithLabelValues(string(outcome), "pipeline").Inc()

	p.logger.Info("analysis finalized",
		"task_id", task.ID,
		"analysis_id", analysis.ID,
		"test_type", analysis.TestType,
		"score", score,
		"verdict", outcome,
	)
	return p.complete(ctx, task, analysis.ID)
}

// complete moves the task out of PROCESSING. Losing the compare-and-set is
// not an error; another actor already decided the terminal state.
func (p *Pipeline) complete(ctx context.Context, task *models.Task, analysisID uuid.UUID) error {
	completed, err := p.store.Tasks.Transition(ctx, task.ID, models.TaskProcessing, models.TaskCompleted)
	if err != nil {
		return err
	}
	if !completed {
		p.logger.Info("task left processing during persistence", "task_id", task.ID)
		return nil
	}
	metrics.TasksProcessed.WithLabelValues(string(models.TaskCompleted)).Inc()

	p.logger.Info("task completed", "task_id", task.ID, "analysis_id", analysisID)
	return nil
}
