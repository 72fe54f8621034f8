package handler

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"tabletop-backend/internal/auth"
	"tabletop-backend/internal/config"
	"tabletop-backend/internal/hub"
	"tabletop-backend/internal/model"
	"tabletop-backend/internal/scene"
	"tabletop-backend/internal/storage"
	"tabletop-backend/internal/store"
)

// ConnResolver HTTP 요청을 보낸 사용자의 웹소켓 연결 조회
type ConnResolver interface {
	Connection(sandboxID, userID string) hub.Conn
}

// ImageHandler 배경 이미지 핸들러
type ImageHandler struct {
	store   *store.Store
	storage storage.Service
	scene   *scene.Service
	hub     *hub.Hub
	conns   ConnResolver
	upload  config.UploadConfig
}

// NewImageHandler ImageHandler 생성
func NewImageHandler(st *store.Store, storageSvc storage.Service, sceneSvc *scene.Service, h *hub.Hub, conns ConnResolver, upload config.UploadConfig) *ImageHandler {
	return &ImageHandler{store: st, storage: storageSvc, scene: sceneSvc, hub: h, conns: conns, upload: upload}
}

// ImageResponse 이미지 응답 (저장 참조를 URL로 변환)
type ImageResponse struct {
	model.Image
	URL string `json:"url"`
}

// UploadImage 이미지 업로드 (multipart)
// 업로드만으로는 화면이 바뀌지 않고, 활성화는 별도 호출이다.
func (h *ImageHandler) UploadImage(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	sandboxID := c.Params("sandboxId")

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "image file is required",
		})
	}

	if fileHeader.Size > h.upload.MaxFileSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "file exceeds the maximum upload size",
		})
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !h.allowedType(contentType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unsupported image type",
		})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer f.Close()

	ref, err := h.storage.Save(c.Context(), sandboxID, fileHeader.Filename, f, contentType)
	if err != nil {
		log.Printf("[Image] Failed to store upload: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to store file",
		})
	}

	img := &model.Image{
		SandboxID: sandboxID,
		Name:      fileHeader.Filename,
		FilePath:  ref,
	}
	if err := h.store.CreateImage(c.Context(), img); err != nil {
		h.storage.Delete(c.Context(), ref)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to save image record",
		})
	}

	resp, err := h.toResponse(c, img)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to resolve image url",
		})
	}

	// 업로더 본인 화면은 이미 갱신됐으므로 제외하고 알림
	exclude := h.conns.Connection(claims.SandboxID, claims.UserID)
	h.hub.BroadcastToRoom(sandboxID, model.EventImageUploaded, resp, exclude)

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// ListImages 샌드박스 이미지 목록 조회
func (h *ImageHandler) ListImages(c *fiber.Ctx) error {
	sandboxID := c.Params("sandboxId")

	images, err := h.store.ListImages(c.Context(), sandboxID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list images",
		})
	}

	responses := make([]ImageResponse, 0, len(images))
	for i := range images {
		resp, err := h.toResponse(c, &images[i])
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to resolve image url",
			})
		}
		responses = append(responses, *resp)
	}

	return c.JSON(responses)
}

// ActivateImage 이미지를 활성 화면으로 전환
func (h *ImageHandler) ActivateImage(c *fiber.Ctx) error {
	sandboxID := c.Params("sandboxId")
	imageID, err := strconv.ParseInt(c.Params("imageId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid image id",
		})
	}

	img, err := h.scene.ActivateImage(c.Context(), sandboxID, imageID)
	if err != nil {
		if errors.Is(err, scene.ErrImageNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "image not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to activate image",
		})
	}

	return c.JSON(img)
}

func (h *ImageHandler) allowedType(contentType string) bool {
	for _, t := range h.upload.AllowedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

func (h *ImageHandler) toResponse(c *fiber.Ctx, img *model.Image) (*ImageResponse, error) {
	url, err := h.storage.URL(c.Context(), img.FilePath)
	if err != nil {
		return nil, err
	}
	return &ImageResponse{Image: *img, URL: url}, nil
}
