package api

import (
	"net/http"

	"whatsapp-crm/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SequenceHandler serves sequence and step editing.
type SequenceHandler struct {
	sequences *store.SequenceStore
	steps     *store.StepStore
	logs      *store.LogStore
	log       logrus.FieldLogger
}

func NewSequenceHandler(sequences *store.SequenceStore, steps *store.StepStore, logs *store.LogStore, log logrus.FieldLogger) *SequenceHandler {
	return &SequenceHandler{sequences: sequences, steps: steps, logs: logs, log: log}
}

// GetSequences returns the sequences of an account
func (h *SequenceHandler) GetSequences(c *gin.Context) {
	accountID, ok := paramID(c, "id")
	if !ok {
		return
	}
	seqs, err := h.sequences.ListSequences(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, seqs)
}

func (h *SequenceHandler) CreateSequence(c *gin.Context) {
	var req store.SequenceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	seq, err := h.sequences.CreateSequence(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, seq)
}

// GetSequence returns a sequence with its ordered steps
func (h *SequenceHandler) GetSequence(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	seq, err := h.sequences.GetSequenceWithSteps(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

func (h *SequenceHandler) UpdateSequence(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req store.SequenceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	current, err := h.sequences.GetSequence(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	// the owning account never changes
	req.AccountID = current.AccountID

	seq, err := h.sequences.UpdateSequence(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

func (h *SequenceHandler) DeleteSequence(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.sequences.DeleteSequence(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sequence deleted successfully"})
}

func (h *SequenceHandler) DeactivateSequence(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.sequences.Deactivate(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sequence deactivated"})
}

func (h *SequenceHandler) GetSteps(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if _, err := h.sequences.GetSequence(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	steps, err := h.steps.ListSteps(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, steps)
}

func (h *SequenceHandler) AddStep(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req store.StepInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	step, err := h.steps.AddStep(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, step)
}

func (h *SequenceHandler) UpdateStep(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req store.StepInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	step, err := h.steps.UpdateStep(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

func (h *SequenceHandler) DeleteStep(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.steps.DeleteStep(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Step deleted successfully"})
}

func (h *SequenceHandler) ReorderSteps(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Steps []store.StepOrder `json:"steps"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	steps, err := h.steps.ReorderSteps(c.Request.Context(), id, req.Steps)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, steps)
}

// GetLogs returns sequence execution logs, newest first
func (h *SequenceHandler) GetLogs(c *gin.Context) {
	filter := store.LogFilter{
		ContactID:  queryUint(c, "contact_id"),
		SequenceID: queryUint(c, "sequence_id"),
		Limit:      int(queryUint(c, "limit")),
	}
	logs, err := h.logs.ListLogs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
