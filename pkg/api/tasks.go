package api

import (
	"net/http"
	"strings"

	"github.com/cuemby/trainyard/pkg/manager"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/gin-gonic/gin"
)

// StageRequest names the stage to restart
type StageRequest struct {
	Stage string `json:"stage" binding:"required"`
}

// RollbackRequest names the status to roll back to
type RollbackRequest struct {
	Target string `json:"target" binding:"required"`
}

func (s *Server) listTasks(c *gin.Context) {
	var (
		tasks []*types.Task
		err   error
	)
	if filter := c.Query("status"); filter != "" {
		var statuses []types.TaskStatus
		for _, part := range strings.Split(filter, ",") {
			st, perr := types.ParseTaskStatus(strings.TrimSpace(part))
			if perr != nil {
				s.badRequest(c, perr.Error())
				return
			}
			statuses = append(statuses, st)
		}
		tasks, err = s.manager.ListTasksByStatus(statuses...)
	} else {
		tasks, err = s.manager.ListTasks()
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if tasks == nil {
		tasks = []*types.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) createTask(c *gin.Context) {
	var spec manager.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	task, err := s.manager.CreateTask(spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	task, err := s.manager.GetTask(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	if err := s.manager.DeleteTask(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// uploadImages stores every file of the multipart "file" field
func (s *Server) uploadImages(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		s.badRequest(c, "expected multipart form: "+err.Error())
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		s.badRequest(c, `no files in form field "file"`)
		return
	}

	var task *types.Task
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			s.badRequest(c, err.Error())
			return
		}
		task, err = s.manager.UploadImage(id, fh.Filename, f)
		f.Close()
		if err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) submitTask(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	task, err := s.manager.SubmitTask(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) stopTask(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	task, err := s.manager.StopTask(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) restartTask(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	stage, err := types.ParseCapability(req.Stage)
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	task, err := s.manager.RestartTask(c.Request.Context(), id, stage)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) rollbackTask(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	target, err := types.ParseTaskStatus(req.Target)
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	task, err := s.manager.RollbackTask(c.Request.Context(), id, target)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) listExecutions(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	execs, err := s.manager.ListExecutions(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if execs == nil {
		execs = []*types.ExecutionHistory{}
	}
	c.JSON(http.StatusOK, execs)
}
