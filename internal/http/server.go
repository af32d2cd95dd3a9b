package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/MASITH-developpement/Azalscore-sub010/internal/log"
	"github.com/MASITH-developpement/Azalscore-sub010/internal/service"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/engine"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/models"
	"github.com/MASITH-developpement/Azalscore-sub010/pkg/storage"
)

// NewMux wires the API routes onto a fresh mux so tests can drive the
// handlers through httptest without binding a port.
func NewMux(store storage.Store, eng *engine.Engine) *http.ServeMux {
	svc := service.NewWorkflowService(store, log.GetLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/workflows", workflowsHandler(svc))
	mux.HandleFunc("/workflows/status", workflowStatusHandler(svc, eng))
	mux.HandleFunc("/trigger", triggerHandler(eng))
	mux.HandleFunc("/executions", executionsHandler(eng))
	mux.HandleFunc("/executions/cancel", cancelHandler(eng))
	mux.HandleFunc("/approvals", approvalsHandler(eng))
	return mux
}

func StartServer(port string, store storage.Store, eng *engine.Engine) error {
	mux := NewMux(store, eng)
	log.GetLogger().Infof("Starting Azalflow server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Azalflow server is running")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func workflowsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listWorkflowsHTTP(w, r, svc)
		case http.MethodPost:
			createWorkflowHTTP(w, r, svc)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func createWorkflowHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService) {
	var def models.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		log.GetLogger().Errorf("Bad workflow payload in POST /workflows: %v", err)
		http.Error(w, "Invalid workflow definition payload", http.StatusBadRequest)
		return
	}
	if err := svc.SaveDefinition(def); err != nil {
		log.GetLogger().Errorf("Failed to save workflow: %v", err)
		http.Error(w, fmt.Sprintf("Failed to save workflow: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": def.ID})
}

func listWorkflowsHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService) {
	workflows, err := svc.ListDefinitions(r.URL.Query().Get("tenant_id"))
	if err != nil {
		log.GetLogger().Errorf("Failed to list workflows: %v", err)
		http.Error(w, fmt.Sprintf("Failed to list workflows: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

func workflowStatusHandler(svc *service.WorkflowService, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Status == "" {
			http.Error(w, "Missing 'id' or 'status'", http.StatusBadRequest)
			return
		}
		status := models.WorkflowStatus(req.Status)
		if err := svc.UpdateStatus(req.ID, status); err != nil {
			log.GetLogger().Errorf("Failed to update workflow status: %v", err)
			http.Error(w, fmt.Sprintf("Failed to update workflow status: %v", err), http.StatusBadRequest)
			return
		}
		// activation hands the definition to the engine so its triggers go live
		if status == models.ActiveWorkflowStatus {
			def, err := svc.GetDefinition(req.ID)
			if err == nil {
				err = eng.RegisterDefinition(def)
			}
			if err != nil {
				log.GetLogger().Errorf("Failed to register workflow %s: %v", req.ID, err)
				http.Error(w, fmt.Sprintf("Failed to register workflow: %v", err), http.StatusInternalServerError)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": req.Status})
	}
}

func triggerHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TenantID string         `json:"tenant_id"`
			Event    string         `json:"event"`
			Payload  map[string]any `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
			http.Error(w, "Missing 'event'", http.StatusBadRequest)
			return
		}
		started, err := eng.TriggerEvent(req.Event, req.Payload, req.TenantID)
		if err != nil {
			log.GetLogger().Errorf("Failed to trigger event %q: %v", req.Event, err)
			http.Error(w, fmt.Sprintf("Failed to trigger event: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"executions": started})
	}
}

func executionsHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if id := r.URL.Query().Get("id"); id != "" {
				exec, err := eng.GetExecution(id)
				if err != nil {
					http.Error(w, fmt.Sprintf("Execution not found: %v", err), http.StatusNotFound)
					return
				}
				writeJSON(w, http.StatusOK, exec)
				return
			}
			workflowID := r.URL.Query().Get("workflow_id")
			if workflowID == "" {
				http.Error(w, "Missing 'id' or 'workflow_id' parameter", http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusOK, eng.ListExecutions(workflowID))
		case http.MethodPost:
			startExecutionHTTP(w, r, eng)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func startExecutionHTTP(w http.ResponseWriter, r *http.Request, eng *engine.Engine) {
	var req struct {
		WorkflowID string         `json:"workflow_id"`
		EntityType string         `json:"entity_type"`
		EntityID   string         `json:"entity_id"`
		Input      map[string]any `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkflowID == "" {
		http.Error(w, "Missing 'workflow_id'", http.StatusBadRequest)
		return
	}
	execID, err := eng.StartExecution(req.WorkflowID, engine.StartOptions{
		TriggerType: models.ManualTrigger,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Input:       req.Input,
	})
	if err != nil {
		log.GetLogger().Errorf("Failed to start workflow %s: %v", req.WorkflowID, err)
		http.Error(w, fmt.Sprintf("Failed to start workflow: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": execID})
}

func cancelHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			http.Error(w, "Missing 'id'", http.StatusBadRequest)
			return
		}
		if err := eng.CancelExecution(req.ID, req.Reason); err != nil {
			http.Error(w, fmt.Sprintf("Failed to cancel execution: %v", err), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": string(models.CancelledExecutionStatus)})
	}
}

func approvalsHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, eng.PendingApprovals(r.URL.Query().Get("tenant_id")))
		case http.MethodPost:
			decideApprovalHTTP(w, r, eng)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func decideApprovalHTTP(w http.ResponseWriter, r *http.Request, eng *engine.Engine) {
	var req struct {
		RequestID  string `json:"request_id"`
		ApproverID string `json:"approver_id"`
		Approved   bool   `json:"approved"`
		Comment    string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" || req.ApproverID == "" {
		http.Error(w, "Missing 'request_id' or 'approver_id'", http.StatusBadRequest)
		return
	}
	if err := eng.ProcessApproval(req.RequestID, req.ApproverID, req.Approved, req.Comment); err != nil {
		log.GetLogger().Errorf("Failed to process approval %s: %v", req.RequestID, err)
		http.Error(w, fmt.Sprintf("Failed to process approval: %v", err), http.StatusBadRequest)
		return
	}
	approval, err := eng.GetApproval(req.RequestID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Approval not found: %v", err), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": approval.ID, "status": string(approval.Status)})
}
