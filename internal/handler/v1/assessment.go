package v1

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/careloop/assessflow/internal/domain"
	"github.com/careloop/assessflow/internal/domain/response"
	"github.com/careloop/assessflow/internal/domain/score"
	"github.com/careloop/assessflow/internal/domain/session"
	"github.com/careloop/assessflow/internal/service"
)

type AssessmentHandler struct {
	engine *service.Engine
	log    *zap.Logger
}

func NewAssessmentHandler(engine *service.Engine, log *zap.Logger) *AssessmentHandler {
	return &AssessmentHandler{engine: engine, log: log}
}

func (h *AssessmentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	assessment := rg.Group("/assessment")
	{
		assessment.POST("/sessions", h.StartSession)
		assessment.GET("/sessions", h.ListSessions)
		assessment.GET("/sessions/:id", h.GetSession)
		assessment.DELETE("/sessions/:id", h.DeleteSession)
		assessment.POST("/sessions/:id/respond", h.SubmitAnswer)
		assessment.GET("/sessions/:id/progress", h.GetProgress)
		assessment.GET("/sessions/:id/results", h.GetResults)
		assessment.GET("/sessions/:id/summary", h.GetSummary)
	}
}

type startSessionRequest struct {
	PatientID string         `json:"patient_id" binding:"required"`
	Metadata  map[string]any `json:"metadata"`
}

type turnResponse struct {
	SessionID          string           `json:"session_id"`
	Kind               string           `json:"kind"`
	Message            string           `json:"message"`
	NeedsClarification bool             `json:"needs_clarification"`
	Progress           progressResponse `json:"progress"`
}

type progressResponse struct {
	Phase              domain.Phase `json:"phase"`
	State              domain.State `json:"state"`
	QuestionsCompleted int          `json:"questions_completed"`
	TotalQuestions     int          `json:"total_questions"`
	IADLCompleted      int          `json:"iadl_completed"`
	ADLCompleted       int          `json:"adl_completed"`
	ErrorCount         int          `json:"error_count"`
	PercentComplete    float64      `json:"percent_complete"`
}

func (h *AssessmentHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	turn, err := h.engine.Start(c.Request.Context(), req.PatientID, req.Metadata)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, toTurnResponse(turn))
}

type submitAnswerRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *AssessmentHandler) SubmitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if !bindJSON(c, &req) {
		return
	}

	turn, err := h.engine.SubmitAnswer(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, toTurnResponse(turn))
}

func (h *AssessmentHandler) GetProgress(c *gin.Context) {
	p, err := h.engine.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, toProgressResponse(*p))
}

type scoreResponse struct {
	ScoreType         score.ScoreType `json:"score_type"`
	Domain            *string         `json:"domain,omitempty"`
	RawScore          float64         `json:"raw_score"`
	MaxPossibleScore  float64         `json:"max_possible_score"`
	PercentageScore   float64         `json:"percentage_score"`
	Interpretation    *string         `json:"interpretation,omitempty"`
	ConfidenceAverage *float64        `json:"confidence_average,omitempty"`
	ResponsesCount    *int            `json:"responses_count,omitempty"`
	CalculatedAt      time.Time       `json:"calculated_at"`
}

func (h *AssessmentHandler) GetResults(c *gin.Context) {
	scores, err := h.engine.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]scoreResponse, 0, len(scores))
	for _, s := range scores {
		out = append(out, toScoreResponse(s))
	}
	respondOK(c, gin.H{"session_id": c.Param("id"), "scores": out})
}

type summaryResponse struct {
	Session    sessionResponse      `json:"session"`
	Scores     []scoreResponse      `json:"scores"`
	Responses  []answerResponse     `json:"responses"`
	Transcript []transcriptResponse `json:"transcript"`
	Confidence confidenceResponse   `json:"confidence_metrics"`
}

type sessionResponse struct {
	SessionID          string       `json:"session_id"`
	PatientID          string       `json:"patient_id"`
	Phase              domain.Phase `json:"phase"`
	State              domain.State `json:"state"`
	StartedAt          time.Time    `json:"started_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	LastActivity       time.Time    `json:"last_activity"`
	QuestionsCompleted int          `json:"questions_completed"`
	TotalQuestions     int          `json:"total_questions"`
	ErrorCount         int          `json:"error_count"`
}

type answerResponse struct {
	QuestionID         string                `json:"question_id"`
	QuestionText       string                `json:"question_text"`
	QuestionDomain     string                `json:"question_domain"`
	AssessmentType     domain.AssessmentType `json:"assessment_type"`
	UserResponse       string                `json:"user_response"`
	InterpretedScore   float64               `json:"interpreted_score"`
	Confidence         float64               `json:"confidence"`
	Reasoning          string                `json:"reasoning"`
	NeedsClarification bool                  `json:"needs_clarification"`
	Timestamp          time.Time             `json:"timestamp"`
}

type transcriptResponse struct {
	Role        domain.MessageRole `json:"role"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"message_type"`
	QuestionID  string             `json:"question_id,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

type confidenceResponse struct {
	Average            float64 `json:"average"`
	LowConfidenceCount int     `json:"low_confidence_count"`
	ClarificationCount int     `json:"clarification_count"`
}

func (h *AssessmentHandler) GetSummary(c *gin.Context) {
	sum, err := h.engine.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := summaryResponse{
		Session: toSessionResponse(sum.Session),
		Confidence: confidenceResponse{
			Average:            sum.Confidence.Average,
			LowConfidenceCount: sum.Confidence.LowConfidenceCount,
			ClarificationCount: sum.Confidence.ClarificationCount,
		},
		Scores:     make([]scoreResponse, 0, len(sum.Scores)),
		Responses:  make([]answerResponse, 0, len(sum.Responses)),
		Transcript: make([]transcriptResponse, 0, len(sum.Transcript)),
	}
	for _, s := range sum.Scores {
		out.Scores = append(out.Scores, toScoreResponse(s))
	}
	for _, r := range sum.Responses {
		out.Responses = append(out.Responses, toAnswerResponse(r))
	}
	for _, m := range sum.Transcript {
		out.Transcript = append(out.Transcript, transcriptResponse{
			Role:        m.Role,
			Content:     m.Content,
			MessageType: m.MessageType,
			QuestionID:  m.QuestionID,
			Timestamp:   m.Timestamp,
		})
	}

	respondOK(c, out)
}

func (h *AssessmentHandler) GetSession(c *gin.Context) {
	sum, err := h.engine.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, toSessionResponse(sum.Session))
}

func (h *AssessmentHandler) ListSessions(c *gin.Context) {
	sessions, err := h.engine.ListActive(c.Request.Context(), c.Query("patient_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	respondOK(c, gin.H{"sessions": out, "count": len(out)})
}

func (h *AssessmentHandler) DeleteSession(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}

	h.log.Info("session deleted", zap.String("session_id", c.Param("id")))
	respondOK(c, gin.H{"deleted": true})
}

func toTurnResponse(t *service.Turn) turnResponse {
	return turnResponse{
		SessionID:          t.SessionID,
		Kind:               string(t.Kind),
		Message:            t.Message,
		NeedsClarification: t.NeedsClarification,
		Progress:           toProgressResponse(t.Progress),
	}
}

func toProgressResponse(p service.Progress) progressResponse {
	out := progressResponse{
		Phase:              p.Phase,
		State:              p.State,
		QuestionsCompleted: p.QuestionsCompleted,
		TotalQuestions:     p.TotalQuestions,
		IADLCompleted:      p.IADLCompleted,
		ADLCompleted:       p.ADLCompleted,
		ErrorCount:         p.ErrorCount,
	}
	if p.TotalQuestions > 0 {
		out.PercentComplete = float64(p.QuestionsCompleted) / float64(p.TotalQuestions) * 100
	}
	return out
}

func toScoreResponse(s *score.AssessmentScore) scoreResponse {
	return scoreResponse{
		ScoreType:         s.ScoreType,
		Domain:            s.Domain,
		RawScore:          s.RawScore,
		MaxPossibleScore:  s.MaxPossibleScore,
		PercentageScore:   s.PercentageScore,
		Interpretation:    s.Interpretation,
		ConfidenceAverage: s.ConfidenceAverage,
		ResponsesCount:    s.ResponsesCount,
		CalculatedAt:      s.CalculatedAt,
	}
}

func toSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		SessionID:          s.SessionID,
		PatientID:          s.PatientID,
		Phase:              s.CurrentPhase,
		State:              s.CurrentState,
		StartedAt:          s.StartedAt,
		CompletedAt:        s.CompletedAt,
		LastActivity:       s.LastActivity,
		QuestionsCompleted: s.QuestionsCompleted,
		TotalQuestions:     s.TotalQuestions,
		ErrorCount:         s.ErrorCount,
	}
}

func toAnswerResponse(r *response.QuestionResponse) answerResponse {
	return answerResponse{
		QuestionID:         r.QuestionID,
		QuestionText:       r.QuestionText,
		QuestionDomain:     r.QuestionDomain,
		AssessmentType:     r.AssessmentType,
		UserResponse:       r.UserResponse,
		InterpretedScore:   r.InterpretedScore,
		Confidence:         r.Confidence,
		Reasoning:          r.Reasoning,
		NeedsClarification: r.NeedsClarification,
		Timestamp:          r.ResponseTimestamp,
	}
}
