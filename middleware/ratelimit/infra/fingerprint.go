package infra

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// maxFingerprintLen é o tamanho a partir do qual o fingerprint vira hash.
const maxFingerprintLen = 256

var fingerprintEscaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`)

// Fingerprint monta a chave determinística de deduplicação a partir dos
// parâmetros semânticos de uma operação.
//
// Cada parte recebe uma tag de tipo, então valores iguais de tipos diferentes
// (1 e "1", nil e "null") não colidem:
//
//   - nil: "n"
//   - string: "s:" + valor
//   - bool: "b:true" / "b:false"
//   - inteiros (com e sem sinal): "i:" + base 10
//   - float32/float64: "f:" + forma mais curta de strconv ('g', -1); NaN e ±Inf por nome
//   - time.Time: "t:" + UTC em RFC3339Nano
//   - time.Duration: "d:" + Duration.String()
//   - []byte: "x:" + hex
//   - struct (ou ponteiro para struct) com campo não exportado: "v:" + fmt "%#v"
//   - qualquer outro valor: "j:" + JSON (mapas com chaves ordenadas, structs na
//     ordem de declaração); se não for serializável em JSON, "v:" + fmt "%#v"
//
// O valor de cada parte escapa `\` e `:` e as partes são unidas com ":".
// Resultados maiores que 256 bytes viram "xxh64:<hex>".
func Fingerprint(parts ...any) string {
	encoded := make([]string, len(parts))
	for i, p := range parts {
		tag, value, ok := encodePart(p)
		if !ok {
			encoded[i] = tag
			continue
		}
		encoded[i] = tag + ":" + fingerprintEscaper.Replace(value)
	}
	fp := strings.Join(encoded, ":")
	if len(fp) > maxFingerprintLen {
		return HashFingerprint(fp)
	}
	return fp
}

// HashFingerprint compacta um fingerprint (ou corpo de requisição) em 64 bits.
func HashFingerprint(s string) string {
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64String(s))
}

// encodePart devolve a tag do tipo e o valor serializado; hasValue é false só para nil.
func encodePart(p any) (tag, value string, hasValue bool) {
	switch v := p.(type) {
	case nil:
		return "n", "", false
	case string:
		return "s", v, true
	case bool:
		return "b", strconv.FormatBool(v), true
	case int:
		return "i", strconv.FormatInt(int64(v), 10), true
	case int8:
		return "i", strconv.FormatInt(int64(v), 10), true
	case int16:
		return "i", strconv.FormatInt(int64(v), 10), true
	case int32:
		return "i", strconv.FormatInt(int64(v), 10), true
	case int64:
		return "i", strconv.FormatInt(v, 10), true
	case uint:
		return "i", strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return "i", strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return "i", strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return "i", strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return "i", strconv.FormatUint(v, 10), true
	case float32:
		return "f", formatFingerprintFloat(float64(v), 32), true
	case float64:
		return "f", formatFingerprintFloat(v, 64), true
	case time.Time:
		return "t", v.UTC().Format(time.RFC3339Nano), true
	case time.Duration:
		return "d", v.String(), true
	case []byte:
		return "x", hex.EncodeToString(v), true
	}

	if hasUnexportedFields(reflect.ValueOf(p)) {
		return "v", fmt.Sprintf("%#v", p), true
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "v", fmt.Sprintf("%#v", p), true
	}
	return "j", string(b), true
}

// hasUnexportedFields olha a struct (ou o ponteiro para ela) no primeiro nível.
func hasUnexportedFields(v reflect.Value) bool {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if !t.Field(i).IsExported() {
			return true
		}
	}
	return false
}

func formatFingerprintFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}
