package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes はバックエンドURLとして許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は公開ネットワーク限定モードでブロックするネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（クラウドメタデータIP 169.254.169.254 を含む）
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// BackendGuard はバックエンドへの接続先を検証する。
type BackendGuard struct {
	// PublicOnly がtrueの場合、プライベート・ループバック・リンクローカルの宛先を拒否する。
	PublicOnly bool
}

// NewBackendGuard はBackendGuardを生成する。
func NewBackendGuard(publicOnly bool) *BackendGuard {
	return &BackendGuard{PublicOnly: publicOnly}
}

// ValidateBaseURL はバックエンドのベースURLを静的に検証する。
// スキーム、ホスト、認証情報・クエリ・フラグメントが無いことを確認し、
// PublicOnlyの場合はIPアドレスとホスト名のブロック対象も確認する。
// DNS解決後の検証はNewClientが生成するクライアント側で行われる。
func (g *BackendGuard) ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials must not be embedded in backend URL")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("backend URL must not contain a query or fragment")
	}

	if !g.PublicOnly {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}
	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// NewClient はバックエンド呼び出し用のHTTPクライアントを生成する。
// PublicOnlyの場合はsafeurlのクライアントを使用し、接続時に解決後のIPアドレスを検証する。
// 許可するポートはベースURLのポートのみとする。
func (g *BackendGuard) NewClient(baseURL string, timeout time.Duration) (*http.Client, error) {
	if !g.PublicOnly {
		return &http.Client{Timeout: timeout}, nil
	}

	port, err := portOf(baseURL)
	if err != nil {
		return nil, err
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(port).
		Build()

	return safeurl.Client(config).Client, nil
}

// portOf はURLのポート番号を返す。省略時はスキームの既定ポートを返す。
func portOf(rawURL string) (int, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("invalid URL: %w", err)
	}
	if p := parsed.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q: %w", p, err)
		}
		return n, nil
	}
	if strings.EqualFold(parsed.Scheme, "https") {
		return 443, nil
	}
	return 80, nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
}

func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}
