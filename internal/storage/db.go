package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/loghawk/loghawk/internal/models"
)

// Upload statuses. Only the pipeline state machine mutates them.
const (
	StatusPending   = "PENDING"
	StatusAnalyzing = "ANALYZING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Upload is one submitted log file.
type Upload struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index" json:"user_id"`
	FileName  string    `json:"file_name"`
	SizeBytes int64     `json:"size_bytes"`
	Status    string    `gorm:"index" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// AnalysisResult tracks one analysis run per upload. RuleBasedCompleted is
// the durable phase marker that resumption keys off.
type AnalysisResult struct {
	ID                 string         `gorm:"primaryKey" json:"id"`
	UploadID           string         `gorm:"uniqueIndex" json:"upload_id"`
	RuleBasedCompleted bool           `json:"rule_based_completed"`
	Status             string         `json:"status"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Findings           []FindingModel `gorm:"foreignKey:AnalysisResultID" json:"findings,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// FindingModel is the persisted form of models.Finding. Findings are
// append-only; the unique index on (analysis_result_id, fingerprint) makes
// re-analysis idempotent.
type FindingModel struct {
	ID               string     `gorm:"primaryKey" json:"id"`
	AnalysisResultID string     `gorm:"index;uniqueIndex:idx_result_fingerprint" json:"analysis_result_id"`
	Severity         string     `gorm:"index" json:"severity"`
	SeverityRank     int        `gorm:"index" json:"-"`
	Category         string     `gorm:"index" json:"category"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	LineNumber       int        `json:"line_number,omitempty"`
	LineContent      string     `json:"line_content,omitempty"`
	MatchedPattern   string     `json:"matched_pattern,omitempty"`
	Source           string     `gorm:"index" json:"source"`
	Fingerprint      string     `gorm:"uniqueIndex:idx_result_fingerprint" json:"fingerprint"`
	Confidence       float64    `json:"confidence,omitempty"`
	MITRETactic      string     `json:"mitre_tactic,omitempty"`
	MITRETechnique   string     `json:"mitre_technique,omitempty"`
	EventTime        *time.Time `json:"event_time,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Store wraps the GORM handle with the operations the pipeline and server
// need.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Upload{}, &AnalysisResult{}, &FindingModel{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateUpload records a newly submitted file in PENDING state.
func (s *Store) CreateUpload(userID, fileName string, sizeBytes int64) (*Upload, error) {
	u := &Upload{
		ID:        uuid.NewString(),
		UserID:    userID,
		FileName:  fileName,
		SizeBytes: sizeBytes,
		Status:    StatusPending,
	}
	if err := s.db.Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUpload fetches one upload by id.
func (s *Store) GetUpload(id string) (*Upload, error) {
	var u Upload
	if err := s.db.First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// TryMarkAnalyzing transitions the upload to ANALYZING with a single
// conditional update. The transition is allowed from PENDING, and from
// COMPLETED or FAILED only when reanalyze is set. It returns false when the
// row was not in an eligible state, which callers surface as a conflict.
func (s *Store) TryMarkAnalyzing(id string, reanalyze bool) (bool, error) {
	eligible := []string{StatusPending}
	if reanalyze {
		eligible = append(eligible, StatusCompleted, StatusFailed)
	}
	res := s.db.Model(&Upload{}).
		Where("id = ? AND status IN ?", id, eligible).
		Updates(map[string]any{"status": StatusAnalyzing, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetUploadStatus sets the status unconditionally. Used for the terminal
// COMPLETED/FAILED transitions where the row is already owned by this run.
func (s *Store) SetUploadStatus(id, status string) error {
	return s.db.Model(&Upload{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now()}).Error
}

// SetUploadSize records the stored content size once it is known.
func (s *Store) SetUploadSize(id string, sizeBytes int64) error {
	return s.db.Model(&Upload{}).Where("id = ?", id).
		Update("size_bytes", sizeBytes).Error
}

// TouchUpload bumps the upload's updated_at so the stall sweep sees
// progress.
func (s *Store) TouchUpload(id string) error {
	return s.db.Model(&Upload{}).Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// ListAnalyzing returns all uploads currently in ANALYZING state.
func (s *Store) ListAnalyzing() ([]Upload, error) {
	var uploads []Upload
	err := s.db.Where("status = ?", StatusAnalyzing).Find(&uploads).Error
	return uploads, err
}

// ListStalled returns ANALYZING uploads whose last update is older than the
// threshold.
func (s *Store) ListStalled(threshold time.Duration) ([]Upload, error) {
	var uploads []Upload
	cutoff := time.Now().Add(-threshold)
	err := s.db.Where("status = ? AND updated_at < ?", StatusAnalyzing, cutoff).
		Find(&uploads).Error
	return uploads, err
}

// EnsureAnalysisResult returns the analysis result for the upload, creating
// it when absent. With reset, the phase marker is cleared and prior findings
// are dropped (explicit reanalysis starts from scratch).
func (s *Store) EnsureAnalysisResult(uploadID string, reset bool) (*AnalysisResult, error) {
	var ar AnalysisResult
	err := s.db.First(&ar, "upload_id = ?", uploadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ar = AnalysisResult{
			ID:       uuid.NewString(),
			UploadID: uploadID,
			Status:   StatusAnalyzing,
		}
		if err := s.db.Create(&ar).Error; err != nil {
			return nil, err
		}
		return &ar, nil
	}
	if err != nil {
		return nil, err
	}
	if reset {
		if err := s.db.Where("analysis_result_id = ?", ar.ID).
			Delete(&FindingModel{}).Error; err != nil {
			return nil, err
		}
		ar.RuleBasedCompleted = false
		ar.Status = StatusAnalyzing
		ar.ErrorMessage = ""
		if err := s.db.Model(&ar).
			Select("RuleBasedCompleted", "Status", "ErrorMessage").
			Updates(&ar).Error; err != nil {
			return nil, err
		}
	}
	return &ar, nil
}

// GetAnalysisResult fetches the analysis result for an upload.
func (s *Store) GetAnalysisResult(uploadID string) (*AnalysisResult, error) {
	var ar AnalysisResult
	if err := s.db.First(&ar, "upload_id = ?", uploadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ar, nil
}

// MarkRulePhaseCompleted durably records that the rule phase finished.
func (s *Store) MarkRulePhaseCompleted(analysisID string) error {
	return s.db.Model(&AnalysisResult{}).Where("id = ?", analysisID).
		Update("rule_based_completed", true).Error
}

// CompleteAnalysis marks the analysis result and its upload COMPLETED.
func (s *Store) CompleteAnalysis(analysisID, uploadID string) error {
	if err := s.db.Model(&AnalysisResult{}).Where("id = ?", analysisID).
		Updates(map[string]any{"status": StatusCompleted, "error_message": ""}).Error; err != nil {
		return err
	}
	return s.SetUploadStatus(uploadID, StatusCompleted)
}

// FailAnalysis marks the analysis result and its upload FAILED, recording
// the error for later inspection.
func (s *Store) FailAnalysis(analysisID, uploadID, message string) error {
	if err := s.db.Model(&AnalysisResult{}).Where("id = ?", analysisID).
		Updates(map[string]any{"status": StatusFailed, "error_message": message}).Error; err != nil {
		return err
	}
	return s.SetUploadStatus(uploadID, StatusFailed)
}

// SaveFindings persists findings for an analysis result. Rows whose
// fingerprint already exists for the result are skipped, keeping reruns
// idempotent.
func (s *Store) SaveFindings(analysisID string, findings []models.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	rows := make([]FindingModel, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, FindingModel{
			ID:               uuid.NewString(),
			AnalysisResultID: analysisID,
			Severity:         string(f.Severity),
			SeverityRank:     f.Severity.Rank(),
			Category:         string(f.Category),
			Title:            f.Title,
			Description:      f.Description,
			LineNumber:       f.LineNumber,
			LineContent:      f.LineContent,
			MatchedPattern:   f.MatchedPattern,
			Source:           string(f.Source),
			Fingerprint:      f.Fingerprint,
			Confidence:       f.Confidence,
			MITRETactic:      f.MITRETactic,
			MITRETechnique:   f.MITRETechnique,
			EventTime:        f.EventTime,
		})
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 200).Error
}

// DeleteFindingsBySource removes findings of one source for an analysis
// result. Used when a crashed rule phase is restarted: rule findings are
// deterministic and safe to regenerate.
func (s *Store) DeleteFindingsBySource(analysisID string, source models.Source) error {
	return s.db.Where("analysis_result_id = ? AND source = ?", analysisID, string(source)).
		Delete(&FindingModel{}).Error
}

// ExistingFingerprints returns the set of fingerprints already persisted for
// an analysis result.
func (s *Store) ExistingFingerprints(analysisID string) (map[string]bool, error) {
	var prints []string
	if err := s.db.Model(&FindingModel{}).
		Where("analysis_result_id = ?", analysisID).
		Pluck("fingerprint", &prints).Error; err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(prints))
	for _, p := range prints {
		set[p] = true
	}
	return set, nil
}

// FindingsForResult returns all findings of an analysis result ordered by
// severity rank then line number.
func (s *Store) FindingsForResult(analysisID string) ([]FindingModel, error) {
	var rows []FindingModel
	err := s.db.Where("analysis_result_id = ?", analysisID).
		Order("severity_rank asc, line_number asc").
		Find(&rows).Error
	return rows, err
}

// FindingFilter narrows and paginates the findings listing.
type FindingFilter struct {
	UserID    string
	Severity  string
	Category  string
	Source    string
	Search    string
	DateStart *time.Time
	DateEnd   *time.Time
	Page      int
	Limit     int
}

// ListFindings returns one page of findings scoped to the user's uploads,
// ordered severity rank ascending (CRITICAL first) then creation time
// descending, plus the total row count for pagination.
func (s *Store) ListFindings(f FindingFilter) ([]FindingModel, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 25
	}
	if f.Limit > 100 {
		f.Limit = 100
	}

	q := s.db.Model(&FindingModel{}).
		Joins("JOIN analysis_results ON analysis_results.id = finding_models.analysis_result_id").
		Joins("JOIN uploads ON uploads.id = analysis_results.upload_id").
		Where("uploads.user_id = ?", f.UserID)

	if f.Severity != "" {
		q = q.Where("finding_models.severity = ?", f.Severity)
	}
	if f.Category != "" {
		q = q.Where("finding_models.category = ?", f.Category)
	}
	if f.Source != "" {
		q = q.Where("finding_models.source = ?", f.Source)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("finding_models.title LIKE ? OR finding_models.description LIKE ? OR finding_models.line_content LIKE ?", like, like, like)
	}
	if f.DateStart != nil {
		q = q.Where("finding_models.created_at >= ?", *f.DateStart)
	}
	if f.DateEnd != nil {
		q = q.Where("finding_models.created_at <= ?", *f.DateEnd)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []FindingModel
	err := q.Order("finding_models.severity_rank asc, finding_models.created_at desc").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&rows).Error
	return rows, total, err
}
