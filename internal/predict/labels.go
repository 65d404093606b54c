package predict

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnknownClass はラベルにないクラス番号を表す
var ErrUnknownClass = errors.New("不明なクラス番号")

// Label は1つのクラスの説明
type Label struct {
	Name  string `json:"name"`
	Cause string `json:"cause,omitempty"`
	Cure  string `json:"cure,omitempty"`
}

// DisplayName は "Tomato___Late_blight" を "Tomato - Late blight" のように整形する
func (l Label) DisplayName() string {
	s := strings.ReplaceAll(l.Name, "___", " - ")
	return strings.ReplaceAll(s, "_", " ")
}

// Healthy は健康な葉のクラスかどうかを返す
func (l Label) Healthy() bool {
	return strings.HasSuffix(strings.ToLower(l.Name), "healthy")
}

// Labels はクラス番号順のラベル一覧
type Labels []Label

// Lookup はクラス番号に対応するラベルを返す
func (l Labels) Lookup(class int) (Label, error) {
	if class < 0 || class >= len(l) {
		return Label{}, fmt.Errorf("%w: %d (クラス数 %d)", ErrUnknownClass, class, len(l))
	}
	return l[class], nil
}

// LoadLabels はJSONファイルからラベルを読み込む
// 文字列の配列と、name/cause/cure を持つオブジェクトの配列のどちらにも対応する
func LoadLabels(path string) (Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ラベルファイルの読み込みに失敗: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels はJSONからラベルを解析する
func ParseLabels(data []byte) (Labels, error) {
	data = bytes.TrimSpace(data)

	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		if len(names) == 0 {
			return nil, errors.New("ラベルが空です")
		}
		labels := make(Labels, 0, len(names))
		for _, n := range names {
			labels = append(labels, Label{Name: n})
		}
		return labels, nil
	}

	var labels Labels
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("ラベルの解析に失敗: %w", err)
	}
	if len(labels) == 0 {
		return nil, errors.New("ラベルが空です")
	}
	return labels, nil
}

// DefaultLabels はモデルの学習時のクラス一覧を返す
func DefaultLabels() Labels {
	names := []string{
		"Apple___Apple_scab",
		"Apple___Black_rot",
		"Apple___Cedar_apple_rust",
		"Apple___healthy",
		"Background_without_leaves",
		"Blueberry___healthy",
		"Cherry___Powdery_mildew",
		"Cherry___healthy",
		"Corn___Cercospora_leaf_spot Gray_leaf_spot",
		"Corn___Common_rust",
		"Corn___Northern_Leaf_Blight",
		"Corn___healthy",
		"Grape___Black_rot",
		"Grape___Esca_(Black_Measles)",
		"Grape___Leaf_blight_(Isariopsis_Leaf_Spot)",
		"Grape___healthy",
		"Orange___Haunglongbing_(Citrus_greening)",
		"Peach___Bacterial_spot",
		"Peach___healthy",
		"Pepper,_bell___Bacterial_spot",
		"Pepper,_bell___healthy",
		"Potato___Early_blight",
		"Potato___Late_blight",
		"Potato___healthy",
		"Raspberry___healthy",
		"Soybean___healthy",
		"Squash___Powdery_mildew",
		"Strawberry___Leaf_scorch",
		"Strawberry___healthy",
		"Tomato___Bacterial_spot",
		"Tomato___Early_blight",
		"Tomato___Late_blight",
		"Tomato___Leaf_Mold",
		"Tomato___Septoria_leaf_spot",
		"Tomato___Spider_mites Two-spotted_spider_mite",
		"Tomato___Target_Spot",
		"Tomato___Tomato_Yellow_Leaf_Curl_Virus",
		"Tomato___Tomato_mosaic_virus",
		"Tomato___healthy",
	}
	labels := make(Labels, 0, len(names))
	for _, n := range names {
		labels = append(labels, Label{Name: n})
	}
	return labels
}
