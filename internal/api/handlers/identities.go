package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/gtm/internal/storage"
	"github.com/your-org/gtm/pkg/dto"
)

// IdentityHandler manages the known-identity gallery: named identities with
// enrolled reference embeddings, searched independently of the GTM's own
// cross-camera association.
type IdentityHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
	// EmbedFn extracts an appearance embedding from image bytes.
	// Set this after vision pipeline is initialized.
	EmbedFn func(imageData []byte) ([]float32, float32, error)
}

func NewIdentityHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *IdentityHandler {
	return &IdentityHandler{db: db, minio: minio}
}

func (h *IdentityHandler) Create(c *gin.Context) {
	var req dto.CreateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	col, err := h.db.GetCollection(c.Request.Context(), req.CollectionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if col == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "collection not found"})
		return
	}

	identity, err := h.db.CreateIdentity(c.Request.Context(), req.CollectionID, req.Name, req.Metadata)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.IdentityResponse{
		ID:           identity.ID,
		CollectionID: identity.CollectionID,
		Name:         identity.Name,
		Metadata:     identity.Metadata,
		CreatedAt:    identity.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

func (h *IdentityHandler) List(c *gin.Context) {
	var collectionID *uuid.UUID
	if colStr := c.Query("collection_id"); colStr != "" {
		id, err := uuid.Parse(colStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collection_id"})
			return
		}
		collectionID = &id
	}

	identities, err := h.db.ListIdentities(c.Request.Context(), collectionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.IdentityResponse, 0, len(identities))
	for _, p := range identities {
		count, _ := h.db.CountGalleryEmbeddings(c.Request.Context(), p.ID)
		resp = append(resp, dto.IdentityResponse{
			ID:                    p.ID,
			CollectionID:          p.CollectionID,
			Name:                  p.Name,
			Metadata:              p.Metadata,
			GalleryEmbeddingCount: count,
			CreatedAt:             p.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"identities": resp, "total": len(resp)})
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}

	identity, err := h.db.GetIdentity(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if identity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}

	count, _ := h.db.CountGalleryEmbeddings(c.Request.Context(), id)

	c.JSON(http.StatusOK, dto.IdentityResponse{
		ID:                    identity.ID,
		CollectionID:          identity.CollectionID,
		Name:                  identity.Name,
		Metadata:              identity.Metadata,
		GalleryEmbeddingCount: count,
		CreatedAt:             identity.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

// AddEmbedding accepts a multipart image upload, extracts an embedding, and
// enrolls it against the identity.
func (h *IdentityHandler) AddEmbedding(c *gin.Context) {
	identityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}

	identity, err := h.db.GetIdentity(c.Request.Context(), identityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if identity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	embedding, quality, err := h.EmbedFn(imageData)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract embedding: " + err.Error()})
		return
	}

	sourceKey := "gallery/" + identityID.String() + "/" + uuid.New().String() + "_" + header.Filename
	if err := h.minio.PutObject(c.Request.Context(), sourceKey, imageData, header.Header.Get("Content-Type")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
		return
	}

	ge, err := h.db.AddGalleryEmbedding(c.Request.Context(), identityID, embedding, quality, sourceKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.GalleryEmbeddingResponse{
		ID:         ge.ID,
		IdentityID: ge.IdentityID,
		Quality:    ge.Quality,
		SourceKey:  ge.SourceKey,
		CreatedAt:  ge.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

func (h *IdentityHandler) DeleteEmbedding(c *gin.Context) {
	identityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}
	embeddingID, err := uuid.Parse(c.Param("embeddingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid embedding id"})
		return
	}

	if err := h.db.DeleteGalleryEmbedding(c.Request.Context(), identityID, embeddingID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *IdentityHandler) ListEmbeddings(c *gin.Context) {
	identityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}

	embeddings, err := h.db.ListGalleryEmbeddings(c.Request.Context(), identityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.GalleryEmbeddingResponse, 0, len(embeddings))
	for _, e := range embeddings {
		resp = append(resp, dto.GalleryEmbeddingResponse{
			ID:         e.ID,
			IdentityID: e.IdentityID,
			Quality:    e.Quality,
			SourceKey:  e.SourceKey,
			CreatedAt:  e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"embeddings": resp, "total": len(resp)})
}

// Search performs a gallery similarity search by uploading an image.
func (h *IdentityHandler) Search(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision pipeline not initialized"})
		return
	}

	embedding, _, err := h.EmbedFn(imageData)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract embedding: " + err.Error()})
		return
	}

	var collectionID *uuid.UUID
	if colStr := c.PostForm("collection_id"); colStr != "" {
		if id, err := uuid.Parse(colStr); err == nil {
			collectionID = &id
		}
	}

	threshold := 0.4
	limit := 5

	matches, err := h.db.SearchGallery(c.Request.Context(), embedding, collectionID, threshold, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := make([]dto.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, dto.SearchResult{
			IdentityID: m.IdentityID,
			Name:       m.Name,
			Score:      m.Score,
		})
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}
