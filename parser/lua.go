package parser

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

// luaParseFunction is the global a parser script must define:
//
//	function parse(company_id, data, rssi, mac, name) return { data = true, ... } end
//
// data is the payload without padding and company id. Returning nil means
// the payload is not recognized; calling error() marks it malformed.
const luaParseFunction = "parse"

// ErrLuaClosed is returned by a LuaLibrary after Close
var ErrLuaClosed = errors.New("lua parser closed")

// ScriptError reports a failure inside a parser script
type ScriptError struct {
	Type    string // "syntax", "runtime" or "api"
	Source  string
	Message string
}

func (e *ScriptError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("Lua %s error (in %s): %s", e.Type, e.Source, e.Message)
	}
	return fmt.Sprintf("Lua %s error: %s", e.Type, e.Message)
}

// LuaLibrary is a Library backed by a user supplied Lua script.
// Calls are serialized; a Lua state is not safe for concurrent use.
type LuaLibrary struct {
	mu     sync.Mutex
	state  *lua.State
	source string
	logger *logrus.Logger
}

var _ NamedLibrary = (*LuaLibrary)(nil)

// NewLuaLibrary compiles script and checks that it defines parse().
// source names the script in errors and logs.
func NewLuaLibrary(source, script string, logger *logrus.Logger) (*LuaLibrary, error) {
	if logger == nil {
		logger = logrus.New()
	}

	L := lua.NewState()
	L.OpenLibs()

	l := &LuaLibrary{state: L, source: source, logger: logger}
	l.registerPrint()

	if status := L.LoadString(script); status != 0 {
		msg := L.ToString(-1)
		L.Close()
		return nil, &ScriptError{Type: "syntax", Source: source, Message: msg}
	}
	if err := L.Call(0, 0); err != nil {
		L.Close()
		return nil, &ScriptError{Type: "runtime", Source: source, Message: err.Error()}
	}

	L.GetGlobal(luaParseFunction)
	defined := L.IsFunction(-1)
	L.Pop(1)
	if !defined {
		L.Close()
		return nil, &ScriptError{Type: "api", Source: source, Message: "script does not define function parse"}
	}

	logger.WithField("script", source).Debug("Lua parser loaded")
	return l, nil
}

// LoadLuaLibrary reads a parser script from disk
func LoadLuaLibrary(path string, logger *logrus.Logger) (*LuaLibrary, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parser script: %w", err)
	}
	return NewLuaLibrary(path, string(script), logger)
}

// registerPrint routes print() from scripts to the debug log
func (l *LuaLibrary) registerPrint() {
	l.state.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case L.IsNumber(i):
				parts = append(parts, fmt.Sprintf("%v", L.ToNumber(i)))
			case L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				parts = append(parts, L.Typename(int(L.Type(i))))
			}
		}
		l.logger.WithField("script", l.source).Debug(strings.Join(parts, " "))
		return 0
	})
	l.state.SetGlobal("print")
}

func (l *LuaLibrary) Parse(raw []byte, mac []byte, rssi int) (SensorMap, error) {
	return l.ParseWithName(raw, "", mac, rssi)
}

// ParseWithName calls parse(company_id, data, rssi, mac, name) in the script
func (l *LuaLibrary) ParseWithName(raw []byte, name string, mac []byte, rssi int) (SensorMap, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("manufacturer data too short: %d bytes", len(raw))
	}
	companyID := int64(raw[2]) | int64(raw[3])<<8

	l.mu.Lock()
	defer l.mu.Unlock()

	L := l.state
	if L == nil {
		return nil, ErrLuaClosed
	}

	top := L.GetTop()
	defer L.SetTop(top)

	L.GetGlobal(luaParseFunction)
	L.PushInteger(companyID)
	L.PushString(string(raw[4:]))
	L.PushInteger(int64(rssi))
	L.PushString(string(mac))
	L.PushString(name)
	if err := L.Call(5, 1); err != nil {
		return nil, &ScriptError{Type: "runtime", Source: l.source, Message: err.Error()}
	}

	if L.IsNil(-1) {
		return nil, nil
	}
	if !L.IsTable(-1) {
		return nil, &ScriptError{Type: "api", Source: l.source,
			Message: fmt.Sprintf("parse must return a table or nil, got %s", L.Typename(int(L.Type(-1))))}
	}
	return tableToMap(L, L.GetTop()), nil
}

// tableToMap copies the string keyed scalar entries of the table at idx
func tableToMap(L *lua.State, idx int) SensorMap {
	result := make(SensorMap)

	L.PushNil()
	for L.Next(idx) != 0 {
		// key at -2, value at -1; only string keys are read so Next is not confused
		if L.Type(-2) == lua.LUA_TSTRING {
			key := L.ToString(-2)
			switch L.Type(-1) {
			case lua.LUA_TBOOLEAN:
				result[key] = L.ToBoolean(-1)
			case lua.LUA_TNUMBER:
				result[key] = L.ToNumber(-1)
			case lua.LUA_TSTRING:
				result[key] = L.ToString(-1)
			}
		}
		L.Pop(1)
	}
	return result
}

// Close releases the Lua state
func (l *LuaLibrary) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != nil {
		l.state.Close()
		l.state = nil
	}
}
