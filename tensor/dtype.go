package tensor

// DType is a compile-time constraint for supported tensor element types.
type DType interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~bool
}

// DataType carries runtime type information for raw tensors.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Bool
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// inferDataType maps a generic element type onto its DataType tag.
func inferDataType[T DType](dummy T) DataType {
	switch any(dummy).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	case bool:
		return Bool
	default:
		panic("unsupported type")
	}
}
