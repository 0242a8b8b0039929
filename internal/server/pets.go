package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	petdomain "github.com/smallbiznis/pawtrack/internal/pet/domain"
)

func (s *Server) CreatePet(c *gin.Context) {
	var req petdomain.CreatePetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pet, err := s.petSvc.Create(c.Request.Context(), *principalFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pet})
}

func (s *Server) ListPets(c *gin.Context) {
	pets, err := s.petSvc.List(c.Request.Context(), *principalFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pets})
}

func (s *Server) GetPet(c *gin.Context) {
	petID, err := parseIDParam(c, "petID")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pet, err := s.petSvc.Get(c.Request.Context(), *principalFrom(c), petID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pet})
}
