package algo

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/igoprotect/delegation/internal/lib/misc"
)

type NetworkConfig struct {
	NodeDataDir string

	NodeURL     string
	NodeToken   string
	NodeHeaders map[string]string

	// NoticeboardAppID is the marketplace (noticeboard) application all ads and contracts hang off of
	NoticeboardAppID uint64
}

func (n NetworkConfig) String() string {
	return fmt.Sprintf("NodeDataDir: %s, NodeURL: %s, NodeToken: (length:%d), NodeHeaders: %v, NoticeboardAppID: %d",
		n.NodeDataDir, n.NodeURL, len(n.NodeToken), n.NodeHeaders, n.NoticeboardAppID)
}

func IsKnownNetwork(network string) bool {
	switch network {
	case "sandbox", "betanet", "testnet", "mainnet", "voitestnet":
		return true
	}
	return false
}

func GetNetworkConfig(network string) NetworkConfig {
	cfg := getDefaults(network)

	if nodeDataDir := os.Getenv("ALGORAND_DATA"); nodeDataDir != "" {
		cfg.NodeDataDir = nodeDataDir
	}

	if appIDEnv := os.Getenv("IGO_NOTICEBOARD_APPID"); appIDEnv != "" {
		cfg.NoticeboardAppID, _ = strconv.ParseUint(appIDEnv, 10, 64)
	}

	if nodeURL := misc.GetSecret("ALGO_ALGOD_URL"); nodeURL != "" {
		cfg.NodeURL = nodeURL
	}
	if nodeToken := misc.GetSecret("ALGO_ALGOD_TOKEN"); nodeToken != "" {
		cfg.NodeToken = nodeToken
	}
	// Generating participation keys needs the admin token, so it takes precedence when present
	if token := misc.GetSecret("ALGO_ALGOD_ADMIN_TOKEN"); token != "" {
		cfg.NodeToken = token
	}
	cfg.NodeHeaders = parseHeaders(misc.GetSecret("ALGO_ALGOD_HEADERS"))
	return cfg
}

// parseHeaders parses key:value,[key:value...] pairs.  Only the first : splits - values can contain them.
func parseHeaders(headers string) map[string]string {
	parsed := map[string]string{}
	for _, header := range strings.Split(headers, ",") {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return parsed
}

func getDefaults(network string) NetworkConfig {
	cfg := NetworkConfig{}
	switch network {
	case "mainnet":
		cfg.NodeURL = "https://mainnet-api.algonode.cloud"
	case "testnet":
		cfg.NodeURL = "https://testnet-api.algonode.cloud"
	case "betanet":
		cfg.NodeURL = "https://betanet-api.algonode.cloud"
	case "sandbox":
		// noticeboard id should come from .env.sandbox
		cfg.NodeURL = "http://localhost:4001"
		cfg.NodeToken = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	case "voitestnet":
		cfg.NodeURL = "https://testnet-api.voi.nodely.io"
	}
	return cfg
}

// GetNetAndTokenFromFiles reads the address and token from files in the local Algorand data directory.
func GetNetAndTokenFromFiles(netFile, tokenFile string) (string, string, error) {
	netPath, err := os.ReadFile(netFile)
	if err != nil {
		return "", "", fmt.Errorf("error reading file: %s: %w", netFile, err)
	}
	apiKeyBytes, err := os.ReadFile(tokenFile)
	if err != nil {
		return "", "", fmt.Errorf("error reading file: %s: %w", tokenFile, err)
	}
	apiURL := fmt.Sprintf("http://%s", strings.TrimSpace(string(netPath)))
	apiToken := strings.TrimSpace(string(apiKeyBytes))
	return apiURL, apiToken, nil
}
