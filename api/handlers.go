package api

import (
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"crm-api/domain"
)

// maxBodySize bounds mutation request bodies.
const maxBodySize = 1 << 20

// Register wires up all API routes on the provided Echo instance. The
// notifier may be nil when no change queue is configured.
func Register(e *echo.Echo, svc BoardService, auth Authenticator, notifier *Notifier, logger *log.Logger) {
	e.GET("/healthz", healthz())

	e.POST("/api/initialize", postInitialize(svc, auth, notifier))
	e.GET("/api/profile", getProfile(svc, auth))

	e.GET("/api/boards", getBoards(svc, auth))
	e.POST("/api/boards", postBoard(svc, auth, notifier))
	e.DELETE("/api/boards/:id", deleteBoard(svc, auth, notifier))
	e.GET("/api/boards/:id/columns", getBoardColumns(svc, auth))

	e.POST("/api/columns", postColumn(svc, auth, notifier))
	e.POST("/api/columns/move", postColumnMove(svc, auth, notifier))
	e.DELETE("/api/columns/:id", deleteColumn(svc, auth, notifier))

	e.GET("/api/cards", getCards(svc, auth))
	e.POST("/api/cards", postCard(svc, auth, notifier))
	e.PUT("/api/cards/:id", putCard(svc, auth, notifier))
	e.DELETE("/api/cards/:id", deleteCard(svc, auth, notifier))
	e.POST("/api/cards/move", postCardMove(svc, auth, notifier, logger))

	e.GET("/api/analytics/pipeline", getPipeline(svc, auth))
}

type boardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type columnRequest struct {
	Title   string `json:"title"`
	Color   string `json:"color"`
	BoardID string `json:"board_id"`
}

type columnMoveRequest struct {
	ColumnID string `json:"column_id"`
	Position int    `json:"position"`
}

type cardMoveRequest struct {
	CardID   string `json:"card_id"`
	ColumnID string `json:"destination_column_id"`
	Position int    `json:"position"`
}

type initializeResponse struct {
	Message string        `json:"message"`
	Board   *domain.Board `json:"board,omitempty"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// decodeBody decodes a JSON request body into out, rejecting unknown
// fields so clients cannot smuggle position or ownership overrides through
// update payloads.
func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func authenticate(c echo.Context, auth Authenticator) (domain.Principal, error) {
	return auth.PrincipalFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

func postInitialize(svc BoardService, auth Authenticator, notifier *Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		if _, err := svc.EnsureProfile(ctx, principal); err != nil {
			return respondError(c, err)
		}
		board, created, err := svc.EnsureDefaultBoard(ctx, principal.ID)
		if err != nil {
			return respondError(c, err)
		}
		if !created {
			return c.JSON(http.StatusOK, initializeResponse{Message: "already initialized", Board: board})
		}
		notifier.Publish(changeEvent(principal.ID, "board", board.ID, "created"))
		return c.JSON(http.StatusCreated, initializeResponse{Message: "initialized", Board: board})
	}
}

func getProfile(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		profile, err := svc.EnsureProfile(ctx, principal)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, profile)
	}
}

func getBoards(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		boards, err := svc.ListBoards(ctx, principal.ID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, boards)
	}
}

func postBoard(svc BoardService, auth Authenticator, notifier *Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		var req boardRequest
		if err := decodeBody(c, &req); err != nil {
			return respondBadRequest(c, "invalid body")
		}
		board, err := svc.CreateBoard(ctx, principal.ID, req.Title, req.Description)
		if err != nil {
			return respondError(c, err)
		}
		notifier.Publish(changeEvent(principal.ID, "board", board.ID, "created"))
		return c.JSON(http.StatusCreated, board)
	}
}

func deleteBoard(svc BoardService, auth Authenticator, notifier *Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		boardID := c.Param("id")
		if err := svc.DeleteBoard(ctx, principal.ID, boardID); err != nil {
			return respondError(c, err)
		}
		notifier.Publish(changeEvent(principal.ID, "board", boardID, "deleted"))
		return c.NoContent(http.StatusNoContent)
	}
}

func getBoardColumns(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		columns, err := svc.ListColumns(ctx, principal.ID, c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, columns)
	}
}

func postColumn(svc BoardService, auth Authenticator, notifier *Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		var req columnRequest
		if err := decodeBody(c, &req); err != nil {
			return respondBadRequest(c, "invalid body")
		}
		column, err := svc.CreateColumn(ctx, principal.ID, req.BoardID, req.Title, req.Color)
		if err != nil {
			return respondError(c, err)
		}
		notifier.Publish(changeEvent(principal.ID, "column", column.ID, "created"))
		return c.JSON(http.StatusCreated, column)
	}
}

func postColumnMove(svc BoardService, auth Authenticator, notifier *Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		var req columnMoveRequest
		if err := decodeBody(c, &req); err != nil {
			return respondBadRequest(c, "invalid body")
		}
		if req.ColumnID == "" {
			return respondBadRequest(c, "column_id is required")
		}
		column, err := svc.MoveColumn(ctx, principal.ID, req.ColumnID, req.Position)
		if err != nil {
			return respondError(c, err)
		}
		notifier.Publish(changeEvent(principal.ID, "column", column.ID, "moved"))
		return c.JSON(http.StatusOK, column)
	}
}

func deleteColumn(svc BoardService, auth Authenticator, notifier *Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		columnID := c.Param("id")
		if err := svc.DeleteColumn(ctx, principal.ID, columnID); err != nil {
			return respondError(c, err)
		}
		notifier.Publish(changeEvent(principal.ID, "column", columnID, "deleted"))
		return c.NoContent(http.StatusNoContent)
	}
}

func getCards(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		cards, err := svc.ListCards(ctx, principal.ID, c.QueryParam("column_id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, cards)
	}
}

func postCard(svc BoardService, auth Authenticator, notifier *Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		var in domain.CardInput
		if err := decodeBody(c, &in); err != nil {
			return respondBadRequest(c, "invalid body")
		}
		card, err := svc.CreateCard(ctx, principal, in)
		if err != nil {
			return respondError(c, err)
		}
		notifier.Publish(changeEvent(principal.ID, "card", card.ID, "created"))
		return c.JSON(http.StatusCreated, card)
	}
}

func putCard(svc BoardService, auth Authenticator, notifier *Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		var patch domain.CardPatch
		if err := decodeBody(c, &patch); err != nil {
			// Unknown fields land here, including attempts to rewrite
			// position or column through the update path.
			return respondBadRequest(c, "invalid body")
		}
		card, err := svc.UpdateCard(ctx, principal.ID, c.Param("id"), patch)
		if err != nil {
			return respondError(c, err)
		}
		notifier.Publish(changeEvent(principal.ID, "card", card.ID, "updated"))
		return c.JSON(http.StatusOK, card)
	}
}

func deleteCard(svc BoardService, auth Authenticator, notifier *Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		cardID := c.Param("id")
		if err := svc.DeleteCard(ctx, principal.ID, cardID); err != nil {
			return respondError(c, err)
		}
		notifier.Publish(changeEvent(principal.ID, "card", cardID, "deleted"))
		return c.NoContent(http.StatusNoContent)
	}
}

func postCardMove(svc BoardService, auth Authenticator, notifier *Notifier, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMoveRequestMetrics(ctx, logger)
		if spanCtx != nil {
			req := c.Request().WithContext(spanCtx)
			c.SetRequest(req)
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		principal, authErr := authenticate(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = respondUnauthorized(c, authErr)
			return err
		}

		var req cardMoveRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = respondBadRequest(c, "invalid body")
			return err
		}
		if req.CardID == "" || req.ColumnID == "" {
			metrics.SetErrorStage("validate")
			err = respondBadRequest(c, "card_id and destination_column_id are required")
			return err
		}
		metrics.SetRequestedIndex(req.Position)
		metrics.SetDestColumn(req.ColumnID)

		moveStart := time.Now()
		card, moveErr := svc.MoveCard(ctx, principal.ID, req.CardID, req.ColumnID, req.Position)
		metrics.ObserveMove(time.Since(moveStart))
		if moveErr != nil {
			metrics.SetErrorStage("move")
			err = respondError(c, moveErr)
			return err
		}
		notifier.Publish(changeEvent(principal.ID, "card", card.ID, "moved"))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, card)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getPipeline(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		principal, err := authenticate(c, auth)
		if err != nil {
			return respondUnauthorized(c, err)
		}
		summary, err := svc.PipelineSummary(ctx, principal.ID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, summary)
	}
}

func changeEvent(userID, entityType, entityID, action string) domain.ChangeEvent {
	return domain.ChangeEvent{
		UserID:     userID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		At:         time.Now().UTC(),
	}
}
