package api

import (
	"net/http"

	"github.com/cuemby/trainyard/pkg/manager"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/gin-gonic/gin"
)

// Asset responses never carry the sealed SSH password

func (s *Server) listAssets(c *gin.Context) {
	assets, err := s.manager.ListAssets()
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]*types.Asset, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.Redacted())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createAsset(c *gin.Context) {
	var spec manager.AssetSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	asset, err := s.manager.CreateAsset(spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset.Redacted())
}

func (s *Server) getAsset(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	asset, err := s.manager.GetAsset(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, asset.Redacted())
}

func (s *Server) updateAsset(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var spec manager.AssetSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	asset, err := s.manager.UpdateAsset(id, spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, asset.Redacted())
}

func (s *Server) deleteAsset(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	if err := s.manager.DeleteAsset(id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) verifyAsset(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	asset, err := s.manager.VerifyAsset(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, asset.Redacted())
}
