package routing

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/fetch"
)

// Strategy names the handling applied to an intercepted request.
type Strategy string

const (
	StaticAsset Strategy = "static"
	DynamicData Strategy = "dynamic"
	Navigation  Strategy = "navigation"
	ShareTarget Strategy = "share-target"
)

// Strategies lists every strategy in classification order.
var Strategies = []Strategy{ShareTarget, DynamicData, Navigation, StaticAsset}

// Policy 保存分类所需的固定参数；Classify 为纯函数，不访问网络或缓存。
type Policy struct {
	AppOrigin         string
	ShareTargetPath   string
	DataOriginPattern string
}

// NewPolicy derives the policy from the app section of the config.
func NewPolicy(app config.AppConfig) (Policy, error) {
	base, err := url.Parse(app.BaseURL)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid BaseURL: %w", err)
	}
	return Policy{
		AppOrigin:         fetch.OriginOf(base),
		ShareTargetPath:   app.ShareTargetPath,
		DataOriginPattern: app.DataOriginPattern,
	}, nil
}

// Classify 依次检查 share-target、数据源、导航，首个命中的规则生效，其余归为静态资源。
func (p Policy) Classify(req *fetch.Request) Strategy {
	if req == nil || req.URL == nil {
		return StaticAsset
	}
	origin := req.Origin()

	if req.Method == http.MethodPost && p.ShareTargetPath != "" &&
		origin == p.AppOrigin && req.URL.Path == p.ShareTargetPath {
		return ShareTarget
	}
	if p.DataOriginPattern != "" && strings.Contains(origin, strings.ToLower(p.DataOriginPattern)) {
		return DynamicData
	}
	if req.IsNavigation() {
		return Navigation
	}
	return StaticAsset
}
