package auth

import (
	"crypto/sha1"
)

// NativePasswordPlugin is the only hashing scheme this core computes
// itself. mysql_clear_password is supported by emitting the password
// verbatim (the caller decides when that's appropriate); any other
// plugin name is rejected with AuthError.
const NativePasswordPlugin = "mysql_native_password"

// ClearPasswordPlugin sends the password unencoded; only safe over an
// already-secure transport, which is the caller's responsibility since
// this core performs no TLS negotiation.
const ClearPasswordPlugin = "mysql_clear_password"

// NativePassword computes the mysql_native_password authentication
// response:
//
//	SHA1(password) XOR SHA1(scramble || SHA1(SHA1(password)))
//
// An empty password unconditionally produces an empty response.
func NativePassword(password string, scramble []byte) []byte {
	if password == "" {
		return nil
	}

	stage1 := sha1.Sum([]byte(password))

	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(scramble)
	h.Write(stage2[:])
	scrambleHash := h.Sum(nil)

	out := make([]byte, len(stage1))
	for i := range out {
		out[i] = stage1[i] ^ scrambleHash[i]
	}
	return out
}

// ComputeAuthResponse computes the auth-response bytes for the plugin
// the server asked for. An empty plugin name (a greeting that carried
// none) is treated as mysql_native_password. It returns AuthError for
// any other plugin than mysql_native_password or mysql_clear_password.
func ComputeAuthResponse(plugin string, password string, scramble []byte) ([]byte, error) {
	switch plugin {
	case NativePasswordPlugin, "":
		return NativePassword(password, scramble), nil
	case ClearPasswordPlugin:
		return []byte(password), nil
	default:
		return nil, &AuthError{Msg: "unsupported authentication plugin " + plugin}
	}
}
