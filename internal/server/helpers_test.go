package server

import (
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
)

func ginTestContext(rec *httptest.ResponseRecorder, target string) (*gin.Context, *gin.Engine) {
	c, e := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, e
}
