package classroom

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/classroom/v1"

	"github.com/stsysd/studyflow/model"
)

// Scopes は課題の取得に必要な読み取り専用のスコープです。
var Scopes = []string{
	classroom.ClassroomCoursesReadonlyScope,
	classroom.ClassroomCourseworkMeReadonlyScope,
}

// Credentials はGoogleの認証情報です。
// リフレッシュトークンがあればトークンを自動で更新し、なければアクセストークンをそのまま使います。
type Credentials struct {
	AccessToken  string
	ClientID     string
	ClientSecret string
	RefreshToken string
	// TokenURL はトークンエンドポイントの上書きです。空の場合はGoogleの既定値です。
	TokenURL string
}

// Configured は認証情報が設定されているかどうかを返します。
func (c Credentials) Configured() bool {
	return c.AccessToken != "" || c.refreshable()
}

func (c Credentials) refreshable() bool {
	return c.RefreshToken != "" && c.ClientID != "" && c.ClientSecret != ""
}

// TokenSource は認証情報からoauth2.TokenSourceを作成します。
func TokenSource(ctx context.Context, c Credentials) (oauth2.TokenSource, error) {
	if c.refreshable() {
		endpoint := google.Endpoint
		if c.TokenURL != "" {
			endpoint.TokenURL = c.TokenURL
		}
		conf := &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		}
		// アクセストークンを渡すと期限なしとみなされ更新されないため、リフレッシュトークンだけを渡す
		return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}), nil
	}
	if c.AccessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken}), nil
	}
	return nil, model.NewValidationError("google_access_token", "access token or refresh token is required")
}

// NewHTTPClient はbaseの設定を引き継ぎ、リクエストにOAuthトークンを付けるHTTPクライアントを作成します。
func NewHTTPClient(ts oauth2.TokenSource, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   base.Transport,
		},
	}
}
