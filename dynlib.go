package duckling

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// duckdbState is the C API's duckdb_state.
type duckdbState int32

const duckdbSuccess duckdbState = 0

// duckdbType is the C API's duckdb_type.
type duckdbType int32

var duckdbTypeNames = map[duckdbType]string{
	1:  "BOOLEAN",
	2:  "TINYINT",
	3:  "SMALLINT",
	4:  "INTEGER",
	5:  "BIGINT",
	6:  "UTINYINT",
	7:  "USMALLINT",
	8:  "UINTEGER",
	9:  "UBIGINT",
	10: "FLOAT",
	11: "DOUBLE",
	12: "TIMESTAMP",
	13: "DATE",
	14: "TIME",
	15: "INTERVAL",
	16: "HUGEINT",
	17: "VARCHAR",
	18: "BLOB",
	19: "DECIMAL",
	20: "TIMESTAMP_S",
	21: "TIMESTAMP_MS",
	22: "TIMESTAMP_NS",
	23: "ENUM",
	24: "LIST",
	25: "STRUCT",
	26: "MAP",
	27: "UUID",
	28: "UNION",
	29: "BIT",
	30: "TIME WITH TIME ZONE",
	31: "TIMESTAMP WITH TIME ZONE",
	32: "UHUGEINT",
}

func (t duckdbType) String() string {
	if name, ok := duckdbTypeNames[t]; ok {
		return name
	}
	return "INVALID"
}

// duckdbResult mirrors struct duckdb_result. Only internal_data is used; the
// deprecated fields are there for the layout.
type duckdbResult struct {
	deprecatedColumnCount  uint64
	deprecatedRowCount     uint64
	deprecatedRowsChanged  uint64
	deprecatedColumns      uintptr
	deprecatedErrorMessage uintptr
	internalData           uintptr
}

// duckdbLib holds the C API entry points of one loaded libduckdb. Opaque
// handles (duckdb_database, duckdb_connection, ...) are plain pointers and
// travel as uintptr; out-parameters are passed as unsafe.Pointer.
type duckdbLib struct {
	path   string
	handle uintptr

	libraryVersion func() uintptr
	free           func(p uintptr)

	createConfig  func(out unsafe.Pointer) duckdbState
	setConfig     func(config uintptr, name, option string) duckdbState
	destroyConfig func(config unsafe.Pointer)
	openExt       func(path string, out unsafe.Pointer, config uintptr, outErr unsafe.Pointer) duckdbState
	closeDB       func(db unsafe.Pointer)
	connect       func(db uintptr, out unsafe.Pointer) duckdbState
	disconnect    func(conn unsafe.Pointer)
	interrupt     func(conn uintptr)

	query         func(conn uintptr, sql string, out unsafe.Pointer) duckdbState
	resultError   func(res unsafe.Pointer) uintptr
	destroyResult func(res unsafe.Pointer)
	columnCount   func(res unsafe.Pointer) uint64
	columnName    func(res unsafe.Pointer, col uint64) uintptr
	columnType    func(res unsafe.Pointer, col uint64) duckdbType
	rowCount      func(res unsafe.Pointer) uint64
	valueIsNull   func(res unsafe.Pointer, col, row uint64) bool
	valueBoolean  func(res unsafe.Pointer, col, row uint64) bool
	valueInt64    func(res unsafe.Pointer, col, row uint64) int64
	valueUint64   func(res unsafe.Pointer, col, row uint64) uint64
	valueDouble   func(res unsafe.Pointer, col, row uint64) float64
	valueVarchar  func(res unsafe.Pointer, col, row uint64) uintptr

	prepare         func(conn uintptr, sql string, out unsafe.Pointer) duckdbState
	prepareError    func(stmt uintptr) uintptr
	destroyPrepare  func(stmt unsafe.Pointer)
	nparams         func(stmt uintptr) uint64
	clearBindings   func(stmt uintptr) duckdbState
	bindBoolean     func(stmt uintptr, idx uint64, v bool) duckdbState
	bindInt64       func(stmt uintptr, idx uint64, v int64) duckdbState
	bindUint64      func(stmt uintptr, idx uint64, v uint64) duckdbState
	bindDouble      func(stmt uintptr, idx uint64, v float64) duckdbState
	bindVarchar     func(stmt uintptr, idx uint64, v string) duckdbState
	bindBlob        func(stmt uintptr, idx uint64, data unsafe.Pointer, n uint64) duckdbState
	bindNull        func(stmt uintptr, idx uint64) duckdbState
	executePrepared func(stmt uintptr, out unsafe.Pointer) duckdbState

	appenderCreate  func(conn uintptr, schema, table string, out unsafe.Pointer) duckdbState
	appenderError   func(app uintptr) uintptr
	appenderEndRow  func(app uintptr) duckdbState
	appenderClose   func(app uintptr) duckdbState
	appenderDestroy func(app unsafe.Pointer) duckdbState
	appendBool      func(app uintptr, v bool) duckdbState
	appendInt64     func(app uintptr, v int64) duckdbState
	appendUint64    func(app uintptr, v uint64) duckdbState
	appendDouble    func(app uintptr, v float64) duckdbState
	appendVarchar   func(app uintptr, v string) duckdbState
	appendBlob      func(app uintptr, data unsafe.Pointer, n uint64) duckdbState
	appendNull      func(app uintptr) duckdbState
}

func (l *duckdbLib) register() (err error) {
	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("binding %s: %v", l.path, r)
		}
	}()

	bind := func(fptr any, name string) {
		purego.RegisterLibFunc(fptr, l.handle, name)
	}

	bind(&l.libraryVersion, "duckdb_library_version")
	bind(&l.free, "duckdb_free")

	bind(&l.createConfig, "duckdb_create_config")
	bind(&l.setConfig, "duckdb_set_config")
	bind(&l.destroyConfig, "duckdb_destroy_config")
	bind(&l.openExt, "duckdb_open_ext")
	bind(&l.closeDB, "duckdb_close")
	bind(&l.connect, "duckdb_connect")
	bind(&l.disconnect, "duckdb_disconnect")
	bind(&l.interrupt, "duckdb_interrupt")

	bind(&l.query, "duckdb_query")
	bind(&l.resultError, "duckdb_result_error")
	bind(&l.destroyResult, "duckdb_destroy_result")
	bind(&l.columnCount, "duckdb_column_count")
	bind(&l.columnName, "duckdb_column_name")
	bind(&l.columnType, "duckdb_column_type")
	bind(&l.rowCount, "duckdb_row_count")
	bind(&l.valueIsNull, "duckdb_value_is_null")
	bind(&l.valueBoolean, "duckdb_value_boolean")
	bind(&l.valueInt64, "duckdb_value_int64")
	bind(&l.valueUint64, "duckdb_value_uint64")
	bind(&l.valueDouble, "duckdb_value_double")
	bind(&l.valueVarchar, "duckdb_value_varchar")

	bind(&l.prepare, "duckdb_prepare")
	bind(&l.prepareError, "duckdb_prepare_error")
	bind(&l.destroyPrepare, "duckdb_destroy_prepare")
	bind(&l.nparams, "duckdb_nparams")
	bind(&l.clearBindings, "duckdb_clear_bindings")
	bind(&l.bindBoolean, "duckdb_bind_boolean")
	bind(&l.bindInt64, "duckdb_bind_int64")
	bind(&l.bindUint64, "duckdb_bind_uint64")
	bind(&l.bindDouble, "duckdb_bind_double")
	bind(&l.bindVarchar, "duckdb_bind_varchar")
	bind(&l.bindBlob, "duckdb_bind_blob")
	bind(&l.bindNull, "duckdb_bind_null")
	bind(&l.executePrepared, "duckdb_execute_prepared")

	bind(&l.appenderCreate, "duckdb_appender_create")
	bind(&l.appenderError, "duckdb_appender_error")
	bind(&l.appenderEndRow, "duckdb_appender_end_row")
	bind(&l.appenderClose, "duckdb_appender_close")
	bind(&l.appenderDestroy, "duckdb_appender_destroy")
	bind(&l.appendBool, "duckdb_append_bool")
	bind(&l.appendInt64, "duckdb_append_int64")
	bind(&l.appendUint64, "duckdb_append_uint64")
	bind(&l.appendDouble, "duckdb_append_double")
	bind(&l.appendVarchar, "duckdb_append_varchar")
	bind(&l.appendBlob, "duckdb_append_blob")
	bind(&l.appendNull, "duckdb_append_null")

	return nil
}

// Loaded libraries stay mapped for the life of the process; engines opened
// from them may still be running when the last Database closes.
var (
	dynlibMu sync.Mutex
	dynlibs  = make(map[string]*duckdbLib)
)

// loadDuckDBLibrary loads and binds libduckdb, once per path.
func loadDuckDBLibrary(cfg *Config) (*duckdbLib, error) {
	path := findLibraryPath(cfg)
	if path == "" {
		return nil, errors.New("libduckdb not found: set Config.LibraryPath or DUCKLING_LIBRARY")
	}

	dynlibMu.Lock()
	defer dynlibMu.Unlock()

	if lib, ok := dynlibs[path]; ok {
		return lib, nil
	}

	handle, err := loadDynamicLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	lib := &duckdbLib{path: path, handle: handle}
	if err := lib.register(); err != nil {
		closeLibrary(handle)
		return nil, err
	}

	dynlibs[path] = lib
	logger().Debug("loaded libduckdb", "path", path, "version", lib.version())
	return lib, nil
}

func libraryFileName() string {
	switch runtime.GOOS {
	case "windows":
		return "duckdb.dll"
	case "darwin":
		return "libduckdb.dylib"
	default:
		return "libduckdb.so"
	}
}

// findLibraryPath picks the library to load: the configured path, then
// DUCKLING_LIBRARY, then a copy next to the working directory or the
// executable, and finally the bare file name for the system loader.
func findLibraryPath(cfg *Config) string {
	if cfg != nil && cfg.LibraryPath != "" {
		return cfg.LibraryPath
	}
	if p := os.Getenv("DUCKLING_LIBRARY"); p != "" {
		return p
	}

	name := libraryFileName()
	searchPaths := []string{
		filepath.Join(".", name),
		filepath.Join(".", "lib", name),
	}
	if execPath, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(filepath.Dir(execPath), name))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return name
}

func (l *duckdbLib) version() string {
	return copyCString(l.libraryVersion())
}

// takeCString copies a C string the library allocated and frees it.
func (l *duckdbLib) takeCString(p uintptr) string {
	if p == 0 {
		return ""
	}
	defer l.free(p)
	return copyCString(p)
}

func copyCString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}
