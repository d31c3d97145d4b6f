package dbcapabilities

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ConnectionDetails holds parsed connection information
type ConnectionDetails struct {
	DatabaseType DatabaseType      `json:"database_type"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Username     string            `json:"username"`
	Password     string            `json:"-"`
	DatabaseName string            `json:"database_name"`
	SSL          bool              `json:"ssl"`
	SSLMode      string            `json:"ssl_mode"`
	Parameters   map[string]string `json:"parameters"`
}

// Address returns host:port, or the database name for file based stores.
func (d *ConnectionDetails) Address() string {
	if d.Host == "" {
		return d.DatabaseName
	}
	if d.Port == 0 {
		return d.Host
	}
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// ParseConnectionString parses a connection URL (postgres://, mongodb://,
// mongodb+srv://) or a SQLite DSN (file:..., :memory:, plain path).
func ParseConnectionString(connectionString string) (*ConnectionDetails, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}

	if isKeywordDSN(connectionString) {
		return parseKeywordDSN(connectionString)
	}
	if isSQLiteDSN(connectionString) {
		return parseSQLiteDSN(connectionString), nil
	}

	parsedURL, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string format: %v", err)
	}

	scheme := strings.ToLower(parsedURL.Scheme)
	if scheme == "" {
		return nil, fmt.Errorf("connection string must include a scheme (e.g., postgresql://)")
	}

	dbType, ok := ParseID(scheme)
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", scheme)
	}
	capability := MustGet(dbType)

	details := &ConnectionDetails{
		DatabaseType: dbType,
		Parameters:   make(map[string]string),
	}

	// mongodb URIs may list several hosts; the first one identifies the deployment.
	hostList := strings.Split(parsedURL.Host, ",")[0]
	host, port := splitHostPort(hostList)
	if host == "" {
		return nil, fmt.Errorf("host is required in connection string")
	}
	details.Host = NormalizeHost(host)

	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", port)
		}
		details.Port = p
	} else if scheme != "mongodb+srv" {
		details.Port = capability.DefaultPort
	}

	if parsedURL.User != nil {
		details.Username = parsedURL.User.Username()
		if password, hasPassword := parsedURL.User.Password(); hasPassword {
			details.Password = password
		}
	}

	details.DatabaseName = strings.Trim(parsedURL.Path, "/")

	queryParams := parsedURL.Query()
	for key, values := range queryParams {
		if len(values) > 0 {
			details.Parameters[key] = values[0]
		}
	}

	switch dbType {
	case PostgreSQL:
		parsePostgreSQLSSL(details, queryParams)
	case MongoDB:
		parseMongoDBSSL(details, queryParams, scheme == "mongodb+srv")
	}

	return details, nil
}

// Redact returns the connection string with any password replaced.
func Redact(connectionString string) string {
	if isKeywordDSN(connectionString) {
		fields := strings.Fields(connectionString)
		for i, f := range fields {
			if strings.HasPrefix(f, "password=") {
				fields[i] = "password=xxxxx"
			}
		}
		return strings.Join(fields, " ")
	}
	if isSQLiteDSN(connectionString) {
		return connectionString
	}
	u, err := url.Parse(connectionString)
	if err != nil || u.User == nil {
		return connectionString
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// isKeywordDSN detects libpq style "host=... dbname=..." strings.
func isKeywordDSN(dsn string) bool {
	return !strings.Contains(dsn, "://") && strings.Contains(dsn, "host=")
}

func parseKeywordDSN(dsn string) (*ConnectionDetails, error) {
	details := &ConnectionDetails{
		DatabaseType: PostgreSQL,
		Port:         MustGet(PostgreSQL).DefaultPort,
		Parameters:   make(map[string]string),
	}
	params := url.Values{}
	for _, field := range strings.Fields(dsn) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("invalid connection string segment %q", field)
		}
		value = strings.Trim(value, "'")
		switch key {
		case "host":
			details.Host = NormalizeHost(value)
		case "port":
			p, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid port number: %s", value)
			}
			details.Port = p
		case "user":
			details.Username = value
		case "password":
			details.Password = value
		case "dbname":
			details.DatabaseName = value
		default:
			details.Parameters[key] = value
			params.Set(key, value)
		}
	}
	parsePostgreSQLSSL(details, params)
	return details, nil
}

func isSQLiteDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "file:") || dsn == ":memory:" || !strings.Contains(dsn, "://")
}

func parseSQLiteDSN(dsn string) *ConnectionDetails {
	name := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return &ConnectionDetails{
		DatabaseType: SQLite,
		DatabaseName: name,
		SSLMode:      "disable",
		Parameters:   map[string]string{},
	}
}

func splitHostPort(hostport string) (string, string) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return hostport, ""
		}
		host := hostport[1:end]
		rest := hostport[end+1:]
		return host, strings.TrimPrefix(rest, ":")
	}
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		return hostport[:i], hostport[i+1:]
	}
	return hostport, ""
}

// parsePostgreSQLSSL handles PostgreSQL-specific SSL parameters
func parsePostgreSQLSSL(details *ConnectionDetails, queryParams url.Values) {
	sslMode := queryParams.Get("sslmode")
	if sslMode == "" {
		sslMode = "prefer" // PostgreSQL default
	}

	details.SSLMode = sslMode
	details.SSL = sslMode != "disable"
}

// parseMongoDBSSL handles MongoDB-specific SSL parameters
func parseMongoDBSSL(details *ConnectionDetails, queryParams url.Values, srv bool) {
	tls := queryParams.Get("tls")
	ssl := queryParams.Get("ssl") // Legacy parameter

	switch {
	case tls != "":
		details.SSL = tls == "true"
	case ssl != "":
		details.SSL = ssl == "true"
	default:
		// SRV records imply TLS unless disabled explicitly.
		details.SSL = srv
	}

	if details.SSL {
		details.SSLMode = "require"
		if queryParams.Get("tlsInsecure") == "true" {
			details.SSLMode = "prefer"
		}
	} else {
		details.SSLMode = "disable"
	}
}
