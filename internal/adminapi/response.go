package adminapi

import (
	"github.com/labstack/echo/v4"
)

// ListResponse is the envelope for paginated list endpoints.
type ListResponse struct {
	TotalCount int64       `json:"totalCount"`
	Pos        int         `json:"pos"`
	Data       interface{} `json:"data"`
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, errorBody{Code: code, Message: message, Detail: detail})
}
