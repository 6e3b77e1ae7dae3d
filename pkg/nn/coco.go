package nn

// Class ids of the COCO classes that have special meaning to the tally pipeline.
const (
	COCOPerson = 0
	COCOBird   = 14
	COCOCat    = 15
	COCODog    = 16
	COCOHorse  = 17
	COCOSheep  = 18
	COCOCow    = 19
)

// COCOClasses is the canonical class list of YOLO models trained on COCO, in class id order.
// The order matters: label files refer to classes by index, and the color palette is seeded in this order.
var COCOClasses = []string{
	"person",
	"bicycle",
	"car",
	"motorcycle",
	"airplane",
	"bus",
	"train",
	"truck",
	"boat",
	"traffic light",
	"fire hydrant",
	"stop sign",
	"parking meter",
	"bench",
	"bird",
	"cat",
	"dog",
	"horse",
	"sheep",
	"cow",
	"elephant",
	"bear",
	"zebra",
	"giraffe",
	"backpack",
	"umbrella",
	"handbag",
	"tie",
	"suitcase",
	"frisbee",
	"skis",
	"snowboard",
	"sports ball",
	"kite",
	"baseball bat",
	"baseball glove",
	"skateboard",
	"surfboard",
	"tennis racket",
	"bottle",
	"wine glass",
	"cup",
	"fork",
	"knife",
	"spoon",
	"bowl",
	"banana",
	"apple",
	"sandwich",
	"orange",
	"broccoli",
	"carrot",
	"hot dog",
	"pizza",
	"donut",
	"cake",
	"chair",
	"couch",
	"potted plant",
	"bed",
	"dining table",
	"toilet",
	"tv",
	"laptop",
	"mouse",
	"remote",
	"keyboard",
	"cell phone",
	"microwave",
	"oven",
	"toaster",
	"sink",
	"refrigerator",
	"book",
	"clock",
	"vase",
	"scissors",
	"teddy bear",
	"hair drier",
	"toothbrush",
}

// ClassName returns the name of class id 'c' from 'classes', or "" if the id is out of range.
func ClassName(classes []string, c int) string {
	if c < 0 || c >= len(classes) {
		return ""
	}
	return classes[c]
}
