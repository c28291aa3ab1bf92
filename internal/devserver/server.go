package devserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

// Proxy is the API Gateway proxy handler the engine forwards to.
type Proxy interface {
	Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
}

// NewEngine returns a gin engine that routes every request through p, so the
// local server exercises exactly the code that runs behind API Gateway.
func NewEngine(p Proxy) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Any("/*path", proxyHandler(p))
	return r
}

func proxyHandler(p Proxy) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := toProxyRequest(c)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "INVALID_INPUT", "reason": "body_too_large"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "reason": "unreadable_body"})
			return
		}
		resp, err := p.Handle(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR"})
			return
		}
		writeProxyResponse(c, resp)
	}
}

func toProxyRequest(c *gin.Context) (events.APIGatewayProxyRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		return events.APIGatewayProxyRequest{}, err
	}

	headers := make(map[string]string, len(c.Request.Header))
	multi := make(map[string][]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		headers[k] = strings.Join(v, ",")
		multi[k] = v
	}

	query := c.Request.URL.Query()
	params := make(map[string]string, len(query))
	for k, v := range query {
		if len(v) > 0 {
			params[k] = v[len(v)-1]
		}
	}

	return events.APIGatewayProxyRequest{
		Resource:                        "/{proxy+}",
		Path:                            c.Request.URL.Path,
		HTTPMethod:                      c.Request.Method,
		Headers:                         headers,
		MultiValueHeaders:               multi,
		QueryStringParameters:           params,
		MultiValueQueryStringParameters: query,
		PathParameters:                  map[string]string{"proxy": strings.TrimPrefix(c.Param("path"), "/")},
		Body:                            string(body),
		RequestContext: events.APIGatewayProxyRequestContext{
			HTTPMethod: c.Request.Method,
			Path:       c.Request.URL.Path,
			Identity:   events.APIGatewayRequestIdentity{SourceIP: c.ClientIP()},
		},
	}, nil
}

func writeProxyResponse(c *gin.Context, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	c.Status(status)
	if resp.Body != "" && status != http.StatusNoContent {
		_, _ = c.Writer.WriteString(resp.Body)
	}
}
